package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/casengine"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [CONFIG]",
		Short: "Print the effective engine settings",
		Long: `Parse an engine config string and print the settings it resolves to.

Examples:
  casengine config
  casengine config "cache_size=256MiB;shards=64;use_cas=false"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s string
			if len(args) == 1 {
				s = args[0]
			}
			eng, err := casengine.New(s, casengine.Options{})
			if err != nil {
				return err
			}
			defer eng.Destroy(cmd.Context(), true)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			err = eng.GetStats(cmd.Context(), nil, casengine.StatsSettings, func(k, v string) {
				fmt.Fprintf(tw, "%s\t%s\n", k, v)
			})
			if err != nil {
				return err
			}
			return tw.Flush()
		},
	}
}
