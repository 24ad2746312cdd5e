package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexAdvisor/config"
)

// newConfigCmd creates the config command
func newConfigCmd(e *env) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.loadConfig(); err != nil {
				return err
			}
			cfg := e.cfgMgr.Get()
			cfg.ApplyEnv()
			fmt.Fprintln(cmd.OutOrStdout(), keyStyle.Render("config file: ")+e.cfgMgr.Path())
			return showConfig(cmd.OutOrStdout(), cfg)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.loadConfig(); err != nil {
				return err
			}
			cfg := e.cfgMgr.Get()
			cfg.ApplyEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.LLMAPIKey() == "" {
				return fmt.Errorf("%w: no API key for provider %s", config.ErrInvalidConfig, cfg.LLMProvider)
			}
			fmt.Fprintln(cmd.OutOrStdout(), completedStyle.Render("configuration ok"))
			return nil
		},
	})

	return configCmd
}

func showConfig(w io.Writer, cfg config.Config) error {
	cfg.DeepSeekAPIKey = mask(cfg.DeepSeekAPIKey)
	cfg.OpenAIAPIKey = mask(cfg.OpenAIAPIKey)
	cfg.EmbeddingAPIKey = mask(cfg.EmbeddingAPIKey)
	cfg.LongportAppKey = mask(cfg.LongportAppKey)
	cfg.LongportAppSecret = mask(cfg.LongportAppSecret)
	cfg.LongportAccessToken = mask(cfg.LongportAccessToken)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
