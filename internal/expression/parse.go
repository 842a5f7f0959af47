// File: internal/expression/parse.go
package expression

import (
	"errors"
	"strings"
)

type segment struct {
	text string
	expr bool
}

// split cuts a template into literal and expression segments. Braces inside
// an expression nest, and braces inside quoted CEL strings are ignored, so
// map literals and "}" string constants work.
func split(src string) ([]segment, error) {
	var (
		segs []segment
		lit  strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); {
		switch {
		case strings.HasPrefix(src[i:], "$${"):
			lit.WriteString("${")
			i += 3
		case strings.HasPrefix(src[i:], "${"):
			end, err := closing(src, i+2)
			if err != nil {
				return nil, err
			}
			expr := strings.TrimSpace(src[i+2 : end])
			if expr == "" {
				return nil, errors.New("empty expression")
			}
			flush()
			segs = append(segs, segment{text: expr, expr: true})
			i = end + 1
		default:
			lit.WriteByte(src[i])
			i++
		}
	}
	flush()
	return segs, nil
}

// closing returns the index of the "}" ending the expression that starts at from.
func closing(src string, from int) (int, error) {
	depth := 0
	var quote byte
	for i := from; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i, nil
			}
			depth--
		}
	}
	return 0, errors.New("unterminated ${")
}
