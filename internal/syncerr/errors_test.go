package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	t.Run("should classify an unclassified error", func(t *testing.T) {
		base := errors.New("connection refused")
		err := RemoteLookup("list versions", base)

		require.Error(t, err)
		assert.True(t, Is(err, KindRemoteLookup))
		assert.ErrorIs(t, err, base)
		assert.Contains(t, err.Error(), "remote_lookup error in list versions")
	})

	t.Run("should keep the innermost classification", func(t *testing.T) {
		inner := Authentication("login", errors.New("401"))
		outer := Submission("file bug", fmt.Errorf("wrapped: %w", inner))

		kind, ok := KindOf(outer)
		require.True(t, ok)
		assert.Equal(t, KindAuthentication, kind)
	})

	t.Run("should return nil for nil", func(t *testing.T) {
		assert.NoError(t, Wrap(KindSubmission, "noop", nil))
	})
}

func TestConfiguration(t *testing.T) {
	err := Configuration("ssc target", "missing %s", "password")
	assert.True(t, Is(err, KindConfiguration))
	assert.False(t, Is(err, KindSubmission))
	assert.EqualError(t, err, "configuration error in ssc target: missing password")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "configuration", KindConfiguration.String())
	assert.Equal(t, "submission", KindSubmission.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
