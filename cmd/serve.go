package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceid/internal/web"
	"github.com/kozaktomas/faceid/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ops server",
	Long: `Start the faceid ops server.
The server loads all enrollments into memory and exposes health and status
endpoints (enrollment count, descriptor dimension, persistence health).
Pending enrollment writes are flushed on shutdown.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default WEB_PORT or 8080)")
	serveCmd.Flags().String("host", "", "Host to bind to (default WEB_HOST or 0.0.0.0)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	webCfg := a.cfg.Web
	if port := mustGetInt(cmd, "port"); port > 0 {
		webCfg.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		webCfg.Host = host
	}

	status := handlers.NewStatusHandler(a.store, a.backendName(), a.extractor.Model(), handlers.MatcherInfo{
		AcceptThreshold:  a.matcher.Threshold(),
		AmbiguityEpsilon: a.matcher.Epsilon(),
		Index:            a.cfg.Matcher.Index,
	}, Version)
	server := web.NewServer(webCfg, status, a.logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error during shutdown", "error", err)
		}
	}()

	fmt.Printf("Loaded %d enrollments (dim %d) from %s backend\n", a.store.Len(), a.store.Dim(), a.backendName())
	fmt.Printf("Starting faceid ops server on http://%s:%d\n", webCfg.Host, webCfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	serveErr := server.Start()
	if err := a.Close(); err != nil {
		a.logger.Error("enrollment store did not close cleanly", "error", err)
		if serveErr == nil {
			return err
		}
	}
	if serveErr != nil {
		return fmt.Errorf("starting server: %w", serveErr)
	}
	return nil
}
