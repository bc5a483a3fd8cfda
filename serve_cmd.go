package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/porua/porua/internal/backend"
	"github.com/porua/porua/internal/cache"
	"github.com/porua/porua/internal/metrics"
	"github.com/porua/porua/internal/server"
	"github.com/porua/porua/internal/settings"
	"github.com/porua/porua/internal/synth"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synthesis HTTP service",
	Long: paragraph(fmt.Sprintf("\n%s synthesis, cache administration and Prometheus metrics over HTTP. Changes to cache.max_size in the config file apply without a restart.",
		keyword("Serve"))),
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on")
	_ = viper.BindPFlag(settings.KeyListen, serveCmd.Flags().Lookup("listen"))

	serveTokenCmd.Flags().StringVar(&tokenSubject, "subject", "porua", "token subject")
	serveTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	serveCmd.AddCommand(serveTokenCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Foreground service: log to stderr
	log.SetOutput(os.Stderr)
	logger := log.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observers := synth.Observers{}

	m := metrics.New()
	observers = append(observers, m)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Release:          Version,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("Sentry init failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
			defer sentry.Flush(2 * time.Second)
			observers = append(observers, server.NewSentryReporter(nil))
		}
	}

	if client, err := backend.NewClient(cfg.BackendConfig()); err == nil {
		if err := client.Health(ctx); err != nil {
			logger.Warn("Synthesis server is not healthy yet", "url", cfg.ServerURL, "error", err)
		}
	}

	orch, err := newOrchestrator(observers)
	if err != nil {
		return err
	}
	defer orch.Close() //nolint:errcheck

	if c := orch.Cache(); c != nil {
		if err := m.RegisterCache(c); err != nil {
			return fmt.Errorf("unable to register cache metrics: %w", err)
		}
		watchCacheBudget(c, logger)
	}

	srv := server.New(orch, m, logger)
	if cfg.JWTSecret != "" {
		srv.RequireToken(cfg.JWTSecret)
		logger.Info("Bearer tokens required on /v1 routes")
	}
	return srv.ListenAndServe(ctx, cfg.Listen)
}

var (
	tokenSubject string
	tokenTTL     time.Duration

	serveTokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Long: paragraph(fmt.Sprintf("\n%s a token signed with %s. The server accepts it while the secret is unchanged and the token has not expired.",
			keyword("Mint"), keyword("PORUA_JWT_SECRET"))),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := server.NewToken(cfg.JWTSecret, tokenSubject, tokenTTL)
			if err != nil {
				return fmt.Errorf("%w: set PORUA_JWT_SECRET", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
)

// watchCacheBudget re-applies cache.max_size whenever the config file
// changes.
func watchCacheBudget(c *cache.AudioCache, logger *log.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		size, err := settings.ParseSize(viper.GetString(settings.KeyCacheMaxSize))
		if err != nil {
			logger.Warn("Ignoring cache.max_size change", "error", err)
			return
		}
		if size == c.Stats().MaxSizeBytes {
			return
		}
		if err := c.Configure(cache.Options{MaxSizeBytes: size}); err != nil {
			logger.Warn("Could not apply cache budget", "error", err)
			return
		}
		logger.Info("Cache budget updated", "file", e.Name, "maxSize", size)
	})
	viper.WatchConfig()
}
