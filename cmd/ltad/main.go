// Command ltad runs the Coordinator service: the single authoritative
// process over TransferRequest, Bundle, Metadata, and Heartbeat state
// (spec.md §4.1), exposed over the REST API in pkg/api.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/wipac/ltacoord/pkg/api"
	"github.com/wipac/ltacoord/pkg/config"
	"github.com/wipac/ltacoord/pkg/coordinator"
	"github.com/wipac/ltacoord/pkg/log"
	"github.com/wipac/ltacoord/pkg/metrics"
	"github.com/wipac/ltacoord/pkg/storage"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ltad",
	Short:   "ltad is the Long Term Archive Coordinator service",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ltad version %s\nCommit: %s\n", Version, Commit))
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	log.Init(log.Config{Level: log.Level(level), JSONOutput: true})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadCoordinatorConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	coord := coordinator.New(store, coordinator.Config{MaxClaimAge: cfg.MaxClaimAge})

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "ok")
	metrics.RegisterComponent("api", true, "ok")

	collector := coordinator.NewMetricsCollector(coord)
	collector.Start()
	defer collector.Stop()

	reaperStop := make(chan struct{})
	go coord.RunReaper(cfg.ReaperInterval, reaperStop)
	defer close(reaperStop)

	keyFunc := staticHMACKeyFunc(cfg.JWTSigningKey)
	server := api.NewServer(coord, cfg.ListenAddr, keyFunc)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Logger.Info().Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Stop(ctx)
}

func staticHMACKeyFunc(secret string) jwt.Keyfunc {
	key := []byte(secret)
	return func(token *jwt.Token) (interface{}, error) {
		return key, nil
	}
}
