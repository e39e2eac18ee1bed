package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/SwitchbackTech/compass-sub010/internal/auth"
	"github.com/SwitchbackTech/compass-sub010/internal/config"
	"github.com/SwitchbackTech/compass-sub010/internal/provider"
	"github.com/SwitchbackTech/compass-sub010/internal/store"
	syncsvc "github.com/SwitchbackTech/compass-sub010/internal/sync"
)

func main() {
	root := &cli.Command{
		Name:  "compass",
		Usage: "mirror a Google Calendar into a local store and keep both sides reconciled",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the config file (defaults to ~/.config/compass/config.yaml)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "perform a full pull of the calendar into the local database",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, svc, _, cleanup, err := bootstrap(ctx, cmd.String("config"))
					if err != nil {
						return err
					}
					defer cleanup()

					n, err := svc.Import(ctx, cfg.UserID)
					if err != nil {
						return fmt.Errorf("import failed: %w", err)
					}
					fmt.Printf("imported %d events from %s\n", n, cfg.CalendarID)
					return nil
				},
			},
			{
				Name:  "watch",
				Usage: "register a watch channel against the configured webhook URL",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, _, client, cleanup, err := bootstrap(ctx, cmd.String("config"))
					if err != nil {
						return err
					}
					defer cleanup()

					if cfg.WebhookURL == "" {
						return errors.New("webhook_url is not configured")
					}
					ch, err := client.Watch(ctx, cfg.CalendarID, uuid.NewString(), cfg.WebhookURL)
					if err != nil {
						return fmt.Errorf("register watch channel: %w", err)
					}
					fmt.Printf("watch channel %s registered for %s (expires %d)\n",
						ch.Id, cfg.CalendarID, ch.Expiration)
					return nil
				},
			},
			{
				Name:  "serve",
				Usage: "listen for provider webhook notifications and reconcile incrementally",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, svc, client, cleanup, err := bootstrap(ctx, cmd.String("config"))
					if err != nil {
						return err
					}
					defer cleanup()
					return serve(ctx, cfg, svc, client)
				},
			},
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and assembles the sync service with its
// store and provider client.
func bootstrap(ctx context.Context, configPath string) (*config.Config, *syncsvc.Service, *provider.Client, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	credsPath, err := cfg.CredentialsPath()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	tokenPath, err := cfg.TokenPath()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	httpClient, err := auth.GetClient(ctx, credsPath, tokenPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("authenticate: %w", err)
	}

	client, err := provider.NewClient(ctx, httpClient, cfg.APIEndpoint)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	db, err := store.NewDB(cfg.Database)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	cleanup := func() {
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
	}

	log := slog.Default()
	svc := syncsvc.New(store.NewEventStore(db), client, cfg.CalendarID, nil, log)
	return cfg, svc, client, cleanup, nil
}

// serve runs the webhook listener until interrupted. When a public webhook URL
// is configured it also registers a watch channel and keeps it renewed.
func serve(ctx context.Context, cfg *config.Config, svc *syncsvc.Service, client *provider.Client) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.Default()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notifications", func(w http.ResponseWriter, r *http.Request) {
		// The provider's push body is empty; the headers identify the channel
		// and the state, and the actual changes come from the changes feed.
		state := r.Header.Get("X-Goog-Resource-State")
		if state == "sync" {
			// Channel handshake; nothing to pull yet.
			w.WriteHeader(http.StatusOK)
			return
		}

		records, err := svc.HandleNotification(r.Context(), cfg.UserID)
		if err != nil {
			log.Error("notification handling failed",
				"channel", r.Header.Get("X-Goog-Channel-Id"), "error", err)
			http.Error(w, "reconciliation failed", http.StatusInternalServerError)
			return
		}
		log.Info("notification processed", "records", len(records))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var watcher *provider.WatchManager
	if cfg.WebhookURL != "" {
		var err error
		watcher, err = provider.NewWatchManager(client, cfg.WebhookURL, cfg.RenewCron, log)
		if err != nil {
			return fmt.Errorf("watch manager: %w", err)
		}
		if err := watcher.Register(ctx, cfg.CalendarID); err != nil {
			return fmt.Errorf("register watch channel: %w", err)
		}
		watcher.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("webhook listener started", "addr", cfg.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if watcher != nil {
		watcher.Shutdown(shutdownCtx)
	}
	return server.Shutdown(shutdownCtx)
}
