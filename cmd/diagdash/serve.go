package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecuworks/diagdash/internal/catalog"
	"github.com/ecuworks/diagdash/internal/ecu"
	"github.com/ecuworks/diagdash/internal/server"
	"github.com/ecuworks/diagdash/web"
)

var (
	listenAddr string
	simFlag    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the diagnostic dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Override listen address (e.g. :8080)")
	serveCmd.Flags().BoolVar(&simFlag, "sim", false, "Run against the simulated ECU")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	log.Println("[main] diagdash starting")

	cfg := server.LoadConfig(configPath)
	if simFlag {
		cfg.ECU.Type = "sim"
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	cat, err := catalog.Load(cfg.Data.SystemsPath)
	if err != nil {
		return err
	}
	settings := catalog.LoadSettings(cfg.Data.SettingsPath)

	prov := cfg.NewProvider()
	// Connect in the background so the dashboard is reachable immediately
	// even while a real ECU is still answering.
	go connectWithRetry(ctx, prov, 10)

	srv := server.New(cfg, prov, cat, settings, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
	return nil
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, then keeps retrying at the
// max interval indefinitely.
func connectWithRetry(ctx context.Context, prov ecu.Provider, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := prov.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
					prov.Name(), attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
					prov.Name(), attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] connected successfully (attempt %d)", prov.Name(), attempt+1)
			return
		}
	}
}
