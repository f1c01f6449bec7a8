package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/conductor/pkg/toolexecutor"
)

var (
	runParams    string
	runContext   string
	runSteps     string
	runStepsFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a tool, a tool chain or a strategy",
}

var runToolCmd = &cobra.Command{
	Use:   "tool <name>",
	Short: "Execute a tool and its dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseObject("params", runParams)
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			return printResult(cmd, a.service.ExecuteTool(cmd.Context(), args[0], params))
		})
	},
}

var runChainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Execute an ordered tool chain",
	Long: `Execute an ordered tool chain. Steps are a JSON array of
{"tool": "...", "params": {...}, "pass_outputs": true} objects given with
--steps or read from --file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := loadChainSteps(runSteps, runStepsFile)
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			return printResult(cmd, a.service.ExecuteChain(cmd.Context(), steps))
		})
	},
}

var runStrategyCmd = &cobra.Command{
	Use:   "strategy [id]",
	Short: "Execute a strategy, selecting one for the context when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runCtx, err := parseObject("context", runContext)
		if err != nil {
			return err
		}
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return withApp(cmd, func(a *app) error {
			return printResult(cmd, a.service.ExecuteStrategy(cmd.Context(), id, runCtx))
		})
	},
}

func init() {
	runToolCmd.Flags().StringVar(&runParams, "params", "", "tool parameters as a JSON object")
	runChainCmd.Flags().StringVar(&runSteps, "steps", "", "chain steps as a JSON array")
	runChainCmd.Flags().StringVar(&runStepsFile, "file", "", "read chain steps from a JSON file")
	runStrategyCmd.Flags().StringVar(&runContext, "context", "", "run context as a JSON object")

	runCmd.AddCommand(runToolCmd, runChainCmd, runStrategyCmd)
	rootCmd.AddCommand(runCmd)
}

func loadChainSteps(inline, file string) ([]toolexecutor.ChainStep, error) {
	data := []byte(inline)
	if file != "" {
		var err error
		data, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain file: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("chain steps are required (--steps or --file)")
	}

	var steps []toolexecutor.ChainStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("invalid chain steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("chain has no steps")
	}
	return steps, nil
}
