package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/nostrportal/portal/internal/config"
	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/mint"
	"github.com/nostrportal/portal/internal/relay"
	"github.com/nostrportal/portal/internal/router"
	"github.com/nostrportal/portal/internal/subscription"
	"github.com/nostrportal/portal/internal/telemetry"
	"github.com/nostrportal/portal/internal/transport"
	"github.com/nostrportal/portal/internal/wallet"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Portal server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	keypair, err := identity.KeypairFromHex(cfg.Nostr.PrivateKey)
	if err != nil {
		return fmt.Errorf("loading server keypair: %w", err)
	}
	logger.Printf("[portal] identity %s", keypair.PubKey())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := relay.New(ctx, keypair, logger)
	for _, url := range cfg.Nostr.Relays {
		pool.Add(url)
	}
	defer pool.Close()

	rtr := router.New(pool, keypair, logger)
	go rtr.Run(ctx)

	runtime := conversation.New(pool, rtr, keypair, logger)

	w, err := buildWallet(cfg.Wallet, pool, keypair)
	if err != nil {
		return fmt.Errorf("configuring wallet backend: %w", err)
	}
	var mintAdapter mint.Adapter = mint.None{}
	if cfg.Mint.DefaultMintURL != "" {
		mintAdapter = mint.NewHTTP(nil, cfg.Mint.DefaultMintURL)
	}

	registry := subscription.New(runtime, cfg.Auth.AuthToken, logger)

	telemetryProvider, err := telemetry.NewProvider(ctx, cfg.Telemetry.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("configuring telemetry: %w", err)
	}
	defer telemetryProvider.Shutdown(context.Background())
	telemetryProvider.Event(ctx, otellog.SeverityInfo, "portal server starting",
		otellog.String("listen", cfg.Listen))

	handler := newCommandHandler(runtime, registry, keypair, w, mintAdapter, pool)

	srv := transport.NewServer(registry, handler.Handle, logger)
	mux := http.NewServeMux()
	mux.Handle("/", srv)
	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(pool.Snapshot())
	})

	httpSrv := &http.Server{Addr: cfg.Listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("[portal] listening on %s", cfg.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	case sig := <-sigCh:
		logger.Printf("[portal] received %s, shutting down", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		telemetryProvider.Event(shutdownCtx, otellog.SeverityInfo, "portal server shutting down",
			otellog.String("signal", sig.String()))
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("[portal] http shutdown error: %v", err)
		}
		cancel()
	}

	return nil
}

func buildWallet(cfg config.WalletConfig, pool *relay.Pool, keypair *identity.Keypair) (wallet.Wallet, error) {
	switch cfg.Kind {
	case "", "none":
		return wallet.None{}, nil
	case "file":
		path := cfg.FilePath
		if path == "" {
			path = "portal-wallet.json"
		}
		return wallet.NewFile(path)
	case "nwc":
		serviceKey, err := identity.ParsePubKey(cfg.ServiceKey)
		if err != nil {
			return nil, fmt.Errorf("parsing wallet.service_key: %w", err)
		}
		return wallet.NewNWC(pool, keypair, serviceKey), nil
	default:
		return nil, fmt.Errorf("unknown wallet kind %q", cfg.Kind)
	}
}
