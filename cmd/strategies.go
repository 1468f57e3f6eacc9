package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/cadforge/cadopt/internal/optimizer"
)

var strategiesTool string

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the available optimization strategies and tool profiles.",
	RunE: func(cmd *cobra.Command, args []string) error {
		type entry struct {
			Tool       string   `json:"tool"`
			Strategies []string `json:"strategies"`
			Parameters []string `json:"parameters,omitempty"`
		}

		var out []entry
		for _, profile := range optimizer.Catalog() {
			if strategiesTool != "" && profile.Name != strategiesTool {
				continue
			}
			e := entry{Tool: profile.Name}
			for _, s := range profile.Strategies {
				e.Strategies = append(e.Strategies, string(s))
			}
			for name := range profile.Bounds {
				e.Parameters = append(e.Parameters, name)
			}
			sort.Strings(e.Parameters)
			out = append(out, e)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	strategiesCmd.Flags().StringVar(&strategiesTool, "tool", "", "limit output to one tool")
	rootCmd.AddCommand(strategiesCmd)
}
