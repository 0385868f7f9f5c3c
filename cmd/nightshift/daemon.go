package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/nightshift/internal/admin"
	"github.com/fentz26/nightshift/internal/audit"
	"github.com/fentz26/nightshift/internal/bus"
	"github.com/fentz26/nightshift/internal/config"
	"github.com/fentz26/nightshift/internal/guarantor"
	"github.com/fentz26/nightshift/internal/journal"
	"github.com/fentz26/nightshift/internal/knowledge"
	"github.com/fentz26/nightshift/internal/models"
	"github.com/fentz26/nightshift/internal/phase"
	"github.com/fentz26/nightshift/internal/resolver"
	"github.com/fentz26/nightshift/internal/store"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	dbPath     string
	configPath string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the reliability core with the admin API",
	Long:  `Runs the phase state machine, the transition guarantor and the progression resolver, and serves the admin HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the admin API (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to the diagnostics SQLite database (overrides config)")
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.nightshift/config.yaml)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting nightshift daemon...")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	// Initialize diagnostics store
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	trail := audit.NewTrail(st)

	// Wire the core
	b := bus.New()
	machine := phase.New(b, trail, cfg.PhaseConfig())
	machine.SetRecorder(st)

	guard := guarantor.New(machine, b, trail, cfg.GuarantorConfig())
	guard.SetRecorder(st)

	jrnl := journal.New()
	knw := knowledge.New()
	res := resolver.New(machine, jrnl, knw, b, trail, cfg.ResolverConfig())
	res.SetRecorder(st)

	service := admin.NewService(machine, guard, res, st)
	server := admin.NewServer(service, st, cfg.Listen)

	guard.Start()
	defer guard.Stop()
	defer res.Stop()
	defer machine.Teardown()

	machine.TransitionToState(models.StateInProgress, models.Normal("session_start"))

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			st.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down admin API...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := st.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg, err := config.LoadFromHome()
	if err != nil {
		log.Printf("Warning: failed to load config: %v (using defaults)", err)
		return config.DefaultConfig(), nil
	}
	return cfg, nil
}
