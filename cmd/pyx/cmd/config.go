package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pyxhttp/pyx/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration "pyx serve" would use, after the config file,
PYX_ environment variables and defaults are applied, as YAML.

Examples:
  pyx config
  PYX_SERVER_ADDR=:9090 pyx --config ./pyx.yaml config`,
	RunE: runConfig,
}

var configDev bool

func init() {
	configCmd.Flags().BoolVar(&configDev, "dev", false, "Show the configuration with development defaults")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if configDev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if used := config.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
