package cli

import (
	"fmt"
	"os"

	"github.com/harun/honeypot/internal/config"
	"github.com/spf13/cobra"
)

var initForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage the configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long:  `Load the config file with environment overrides applied and report every invalid setting.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		path := loader.GetConfigPath()

		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}

		if err := loader.Save(config.DefaultConfig()); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "You can now start the server with: honeypot serve")
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configValidateCmd, configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
