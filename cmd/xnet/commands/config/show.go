package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/xnet/internal/cli/output"
	"github.com/marmos91/xnet/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration xnet would run with: defaults, overlaid by the
config file, overlaid by XNET_* environment variables.

Examples:
  # Show as YAML
  xnet config show

  # Show as JSON
  xnet config show --output json

  # Show the effect of an environment override
  XNET_SERVER_PORT=9000 xnet config show`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(out, cfg.Map())
	default:
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
}
