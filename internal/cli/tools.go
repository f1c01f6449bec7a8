package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect registered tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATEGORY\tVERSION\tDEPENDENCIES\tDESCRIPTION")
			for _, name := range a.service.Tools().List() {
				desc, ok := a.service.Tools().Get(name)
				if !ok {
					continue
				}
				deps := "-"
				if len(desc.Dependencies) > 0 {
					deps = fmt.Sprint(desc.Dependencies)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", desc.Name, orDash(desc.Category), orDash(desc.Version), deps, desc.Description)
			}
			return w.Flush()
		})
	},
}

func init() {
	toolsCmd.AddCommand(toolsListCmd)
	rootCmd.AddCommand(toolsCmd)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
