package cmd

import (
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/cadforge/cadopt/api/schemas"
	"github.com/cadforge/cadopt/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	optTool         string
	optProject      string
	optStrategy     string
	optParamsJSON   string
	optTargetsJSON  string
	optRequestFile  string
	optConfidential bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run a single optimization and print the result as JSON.",
	Long: `Runs one optimization inline, without the server or the job queue.
The request comes either from a JSON file (--request) or from the
--tool/--params/--targets/--strategy flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		req, err := loadRequest()
		if err != nil {
			return err
		}

		st, err := buildStack(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer st.close()

		res, cacheHit, err := st.optimizer.Optimize(cmd.Context(), "", req, nil)
		if err != nil {
			var pre *schemas.PartialResultError
			if !errors.As(err, &pre) {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: iteration limit exceeded, printing best-known result")
			res = pre.Partial
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"result":    res,
			"cache_hit": cacheHit,
		})
	},
}

func loadRequest() (schemas.OptimizationRequest, error) {
	var req schemas.OptimizationRequest

	if optRequestFile != "" {
		raw, err := os.ReadFile(optRequestFile)
		if err != nil {
			return req, fmt.Errorf("reading request file: %w", err)
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return req, fmt.Errorf("parsing request file: %w", err)
		}
		return req, nil
	}

	if optTool == "" {
		return req, fmt.Errorf("either --request or --tool is required")
	}
	req.Tool = optTool
	req.ProjectID = optProject
	req.Strategy = schemas.Strategy(optStrategy)
	req.Confidential = optConfidential
	if err := json.Unmarshal([]byte(optParamsJSON), &req.Parameters); err != nil {
		return req, fmt.Errorf("parsing --params: %w", err)
	}
	if err := json.Unmarshal([]byte(optTargetsJSON), &req.Targets); err != nil {
		return req, fmt.Errorf("parsing --targets: %w", err)
	}
	return req, nil
}

func init() {
	optimizeCmd.Flags().StringVar(&optRequestFile, "request", "", "path to a JSON optimization request")
	optimizeCmd.Flags().StringVar(&optTool, "tool", "", "CAD tool to tune (e.g. yosys, nextpnr)")
	optimizeCmd.Flags().StringVar(&optProject, "project", "", "project identifier for the transfer corpus")
	optimizeCmd.Flags().StringVar(&optStrategy, "strategy", string(schemas.StrategyBayesian), "optimization strategy")
	optimizeCmd.Flags().StringVar(&optParamsJSON, "params", "{}", "initial parameters as JSON")
	optimizeCmd.Flags().StringVar(&optTargetsJSON, "targets", "{}", "target metrics as JSON")
	optimizeCmd.Flags().BoolVar(&optConfidential, "confidential", false, "keep this run out of the cache and corpus")
	rootCmd.AddCommand(optimizeCmd)
}
