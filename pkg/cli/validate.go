package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockd-chaos/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Validate a chaos configuration file",
	Long: `Validate a chaos configuration file without starting any servers.

The file is parsed, out-of-range values are clamped to their defaults and the
result is validated. With --print the normalized configuration is written to
stdout (YAML, or JSON with --json).`,
	Example: `  mockd-chaos validate chaos.yaml
  mockd-chaos validate chaos.yaml --print --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printCfg, _ := cmd.Flags().GetBool("print")
		if !printCfg {
			fmt.Fprintf(out, "%s: configuration is valid\n", args[0])
			return nil
		}

		var data []byte
		if jsonOutput {
			data, err = config.ToJSON(cfg)
		} else {
			data, err = config.ToYAML(cfg)
		}
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	},
}

func init() {
	validateCmd.Flags().Bool("print", false, "Print the normalized configuration")
	rootCmd.AddCommand(validateCmd)
}
