// File: cmd/options.go
package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bugsync/internal/service"
)

// newOptionsCmd lists the context options of the configured source, target
// and static resolvers.
func newOptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "Lists the context options the configured source and target accept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tFLAG\tENV\tATTRIBUTES\tDESCRIPTION")
			for _, o := range service.Options(cfg) {
				var attrs []string
				if o.Required {
					req := "required"
					if len(o.DependsOn) > 0 {
						req += " with " + strings.Join(o.DependsOn, ",")
					}
					attrs = append(attrs, req)
				}
				if o.Secret {
					attrs = append(attrs, "secret")
				}
				fmt.Fprintf(w, "%s\t--%s\t%s\t%s\t%s\n", o.Key, o.FlagName(), o.EnvName(), strings.Join(attrs, " "), o.Description)
			}
			return w.Flush()
		},
	}
}
