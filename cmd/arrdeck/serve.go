package main

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/config"
	"github.com/arrdeck/arrdeck/internal/dashboard"
	"github.com/arrdeck/arrdeck/internal/navigation"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket bridge for the dashboard",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "Listen address (overrides bridge.listen)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Bridge.Listen = listen
	}

	logger, closeLog, err := setupLogging(instanceName(cmd), cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
		logger = log.Default()
	} else {
		defer closeLog()
	}

	d, err := dashboard.Build(cfg,
		dashboard.WithInstance(instanceName(cmd)),
		dashboard.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d.Start(ctx)
	server := d.NewBridge()

	ln, err := net.Listen("tcp", cfg.Bridge.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Bridge.Listen, err)
	}

	if _, err := d.Controller.Navigate(ctx, navigation.Home); err != nil {
		logger.Printf("[Serve] initial navigation: %v", err)
	}
	go func() {
		if err := d.RefreshAll(ctx); err != nil {
			logger.Printf("[Serve] initial load incomplete: %v", err)
		}
	}()

	logger.Printf("arrdeck %s serving %s (PID: %d)", cfg.Backend.BaseURL, ln.Addr(), os.Getpid())
	if err := server.Serve(ctx, ln); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	logger.Println("arrdeck stopped")
	return nil
}

// setupLogging writes to stdout and the instance log file.
func setupLogging(instance, level string) (*log.Logger, func(), error) {
	paths, err := config.EnsureInstanceDirs(instance)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise instance directories: %w", err)
	}

	logFile, err := os.OpenFile(paths.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	flags := log.LstdFlags
	if level == "debug" {
		flags |= log.Lshortfile
	}
	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(flags)

	logger := log.New(multi, "", flags)
	logger.Printf("=== arrdeck starting (PID: %d) ===", os.Getpid())
	logger.Printf("Log file: %s", paths.LogFile)
	return logger, func() { logFile.Close() }, nil
}
