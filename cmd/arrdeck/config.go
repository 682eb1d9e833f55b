package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arrdeck/arrdeck/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configuration after defaults and environment overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})
	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	masked := *cfg
	if masked.Backend.Token != "" {
		masked.Backend.Token = maskedKey
	}
	if len(masked.Apps) == 0 {
		masked.Apps = masked.EnabledApps()
	}

	if out.jsonMode {
		return out.Print(configView(&masked))
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = out.w.Write(data)
	return err
}

// configView is the JSON shape of config show; durations print as strings.
func configView(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"backend": map[string]interface{}{
			"base_url": cfg.Backend.BaseURL,
			"token":    cfg.Backend.Token,
			"timeout":  cfg.Backend.Timeout.String(),
		},
		"cache": map[string]interface{}{
			"ttl":        cfg.Cache.TTL.String(),
			"status_ttl": cfg.Cache.StatusTTL.String(),
			"persist":    cfg.Cache.Persist,
		},
		"retry": map[string]interface{}{
			"max_attempts": cfg.Retry.MaxAttempts,
			"base_delay":   cfg.Retry.BaseDelay.String(),
			"max_delay":    cfg.Retry.MaxDelay.String(),
		},
		"validator": map[string]interface{}{
			"debounce":       cfg.Validator.Debounce.String(),
			"min_url_length": cfg.Validator.MinURLLength,
			"min_key_length": cfg.Validator.MinKeyLength,
		},
		"poller": map[string]interface{}{
			"interval": cfg.Poller.Interval.String(),
		},
		"bridge": map[string]interface{}{
			"listen":          cfg.Bridge.Listen,
			"allowed_origins": cfg.Bridge.AllowedOrigins,
		},
		"log":  map[string]interface{}{"level": cfg.Log.Level},
		"apps": cfg.Apps,
	}
}
