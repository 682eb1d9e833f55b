package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/config"
	"github.com/arrdeck/arrdeck/internal/dashboard"
	arrversion "github.com/arrdeck/arrdeck/internal/version"
)

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
	w        io.Writer
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode, w: cmd.OutOrStdout()}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data interface{}) error {
	if s, ok := data.(string); ok && !f.jsonMode {
		fmt.Fprintln(f.w, s)
		return nil
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(f.w, string(jsonBytes))
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Fprintln(f.w, message)
	return nil
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arrdeck",
		Short: "arrdeck - control layer for the media automation dashboard",
		Long: `arrdeck coordinates dashboard navigation, configuration sessions for the
automation applications (sonarr, radarr, lidarr, ...) and status polling.

Run "arrdeck serve" to expose it to the dashboard over a WebSocket, or use
the instances and status commands directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = arrversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (defaults to the instance config)")
	rootCmd.PersistentFlags().String("instance", config.DefaultInstance, "Instance name under ~/.arrdeck/instances")

	rootCmd.AddCommand(
		newServeCommand(),
		newInstancesCommand(),
		newStatusCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func instanceName(cmd *cobra.Command) string {
	name, _ := cmd.Flags().GetString("instance")
	if strings.TrimSpace(name) == "" {
		return config.DefaultInstance
	}
	return name
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GetInstancePaths(instanceName(cmd)).Config
	}
	return config.Load(path)
}

// openDashboard builds a dashboard for one-shot commands. Background
// diagnostics go to stderr so they never mix with command output.
func openDashboard(cmd *cobra.Command) (*dashboard.Dashboard, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := log.New(cmd.ErrOrStderr(), "", 0)
	if cfg.Log.Level != "debug" {
		logger.SetOutput(io.Discard)
	}
	return dashboard.Build(cfg,
		dashboard.WithInstance(instanceName(cmd)),
		dashboard.WithLogger(logger),
	)
}
