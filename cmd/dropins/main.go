// Command dropins runs the OAuth drop-in service: one start and one
// callback endpoint per provider, backed by a shared cache for in-flight
// handshakes and a credential store for finished ones.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/snarfed/oauth-dropins/internal/auth"
	"github.com/snarfed/oauth-dropins/internal/cache"
	"github.com/snarfed/oauth-dropins/internal/classify"
	"github.com/snarfed/oauth-dropins/internal/config"
	"github.com/snarfed/oauth-dropins/internal/exchange"
	"github.com/snarfed/oauth-dropins/internal/flow"
	"github.com/snarfed/oauth-dropins/internal/httpapi"
	"github.com/snarfed/oauth-dropins/internal/observability/logger"
	"github.com/snarfed/oauth-dropins/internal/providers"
	"github.com/snarfed/oauth-dropins/internal/providers/mastodon"
	"github.com/snarfed/oauth-dropins/internal/state"
)

func main() {
	// .env es opcional; en prod las vars vienen del entorno real.
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:   "dropins",
		Short: "Servicio de handshakes OAuth drop-in",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("CONFIG_PATH"), "ruta al config.yaml (env CONFIG_PATH)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgPath)
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "Lista los providers soportados y cuáles están configurados",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listProviders(cfgPath)
		},
	}

	root.AddCommand(serveCmd, providersCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "oauth-dropins"})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Driver,
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		return err
	}
	defer cacheClient.Close()

	var credentials auth.Store
	switch cfg.Storage.Driver {
	case "postgres":
		credentials, err = auth.NewPGStore(ctx, cfg.Storage.DSN)
		if err != nil {
			return err
		}
	default:
		credentials = auth.NewMemoryStore()
	}
	defer credentials.Close()

	providerConfigs := make(map[string]providers.Config, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		providerConfigs[name] = providers.Config{ClientID: pc.ClientID, ClientSecret: pc.ClientSecret}
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	registry := providers.NewRegistry(providers.Catalog(), providerConfigs, httpClient)

	baseURL := cfg.App.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost" + cfg.Server.Addr
	}

	svc, err := flow.New(flow.Deps{
		Registry:    registry,
		Exchange:    exchange.NewStore(cacheClient, cfg.Handshake.ExchangeTTL),
		States:      state.New(cfg.Handshake.StateSecret),
		Credentials: credentials,
		Apps:        mastodon.NewAppStore(cacheClient, cfg.Handshake.AppMaxAge),
		BaseURL:     baseURL,
		AppName:     cfg.App.Name,
		HTTP:        httpClient,
	})
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Controller: httpapi.NewController(svc, registry, classify.New()),
		Checks: map[string]httpapi.Pinger{
			"cache":       cacheClient,
			"credentials": credentials,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", logger.String("addr", cfg.Server.Addr),
			logger.String("base_url", baseURL))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func listProviders(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	for _, desc := range providers.Catalog() {
		configured := "-"
		switch desc.Protocol {
		case providers.ProtocolMastodon, providers.ProtocolIndieAuth:
			configured = "ok (sin app)"
		default:
			if pc := cfg.Providers[desc.Name]; pc.ClientID != "" && pc.ClientSecret != "" {
				configured = "ok"
			}
		}
		fmt.Printf("%-12s %-14s %-10s %s\n", desc.Name, desc.Label, desc.Protocol, configured)
	}
	return nil
}
