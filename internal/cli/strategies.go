package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/conductor/pkg/strategy"
)

var strategiesCmd = &cobra.Command{
	Use:     "strategies",
	Aliases: []string{"strategy"},
	Short:   "Manage stored strategies",
}

var strategiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List strategies with their success rate and usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODE\tSTEPS\tSUCCESS_RATE\tUSAGE")
			for _, s := range a.service.Engine().List() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.3f\t%d\n", s.ID, s.Mode, len(s.Steps), s.SuccessRate, s.UsageCount)
			}
			return w.Flush()
		})
	},
}

var strategiesAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Validate a strategy document (YAML or JSON) and store it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := strategy.LoadFile(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			if err := a.service.SaveStrategy(st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Strategy %s saved\n", st.ID)
			return nil
		})
	},
}

var strategiesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a stored strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.service.RemoveStrategy(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Strategy %s removed\n", args[0])
			return nil
		})
	},
}

func init() {
	strategiesCmd.AddCommand(strategiesListCmd, strategiesAddCmd, strategiesRemoveCmd)
	rootCmd.AddCommand(strategiesCmd)
}
