package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/charge-orchestrator/internal/sandbox"
	"github.com/frahmantamala/charge-orchestrator/pkg/logger"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Start the sandbox processor",
	Long:  `Serve a local processor that speaks the charge wire contract, for development and demos. Source tokens select the outcome.`,
	Run: func(cmd *cobra.Command, args []string) {
		startSandbox()
	},
}

var sandboxPort int

func startSandbox() {
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg := logger.LoggerWrapper()

	store, err := sandbox.OpenStore(config.Sandbox.BoltPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open sandbox store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	port := getIntFlag(sandboxPort, config.Sandbox.Port)
	handler := sandbox.NewHandler(store, sandbox.ConfigFrom(config.Sandbox), lg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	lg.Info("sandbox processor listening", "address", server.Addr, "store", config.Sandbox.BoltPath)

	select {
	case sig := <-sigChan:
		lg.Info("received signal, shutting down sandbox", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			lg.Error("sandbox shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			lg.Error("sandbox failed to start", "error", err)
			os.Exit(1)
		}
	}
}

func init() {
	sandboxCmd.Flags().IntVar(&sandboxPort, "port", 0, "Listen port (overrides config)")

	rootCmd.AddCommand(sandboxCmd)
}
