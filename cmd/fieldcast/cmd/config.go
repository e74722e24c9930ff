package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fieldcast/fieldcast/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging defaults, the config file,
environment variables, and flags. Credentials are masked.

Environment variables use the FIELDCAST_ prefix and underscores for
nesting, e.g. server.port -> FIELDCAST_SERVER_PORT.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	masked := *cfg
	masked.Resolver.Plex.Token = maskSecret(cfg.Resolver.Plex.Token)
	masked.Resolver.Jellyfin.Token = maskSecret(cfg.Resolver.Jellyfin.Token)
	masked.Resolver.Emby.Token = maskSecret(cfg.Resolver.Emby.Token)

	out, err := yaml.Marshal(masked)
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	cmd.Print(string(out))
	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
