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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/stealthfetch/internal/browser"
	"github.com/Rorqualx/stealthfetch/internal/config"
	"github.com/Rorqualx/stealthfetch/internal/handlers"
	"github.com/Rorqualx/stealthfetch/internal/metrics"
	"github.com/Rorqualx/stealthfetch/internal/middleware"
	"github.com/Rorqualx/stealthfetch/internal/profile"
	"github.com/Rorqualx/stealthfetch/internal/session"
	"github.com/Rorqualx/stealthfetch/internal/stats"
	"github.com/Rorqualx/stealthfetch/pkg/version"
)

const (
	shutdownTimeout = 30 * time.Second
	rotateTimeout   = 2 * time.Minute
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP fetch API",
	Long: `Start one stealth browser session and serve POST /v1 fetch requests
GET /health and GET /stats. With PROFILE_HOT_RELOAD the session is replaced whenever the
profile file changes; SIGHUP forces a profile reload.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (default from HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from PORT)")
}

// sessionStarter returns a StartFunc that launches sessions with lc.
func sessionStarter(lc browser.LaunchConfig, fetchTimeout time.Duration) handlers.StartFunc {
	return func(ctx context.Context, p profile.Profile) (handlers.Session, error) {
		s, err := session.Start(ctx, lc, session.WithProfile(p), session.WithFetchTimeout(fetchTimeout))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// rotateOnReload returns a profile subscriber that swaps the session for one
// built from the new profile. A failed rotation leaves the current session serving.
func rotateOnReload(holder *handlers.SessionHolder, timeout time.Duration) func(profile.Profile) {
	return func(p profile.Profile) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := holder.Rotate(ctx, p); err != nil {
			log.Error().
				Err(err).
				Str("timezone", p.Timezone()).
				Msg("Session rotation failed, keeping current session")
		}
	}
}

func runServe(cfg *config.Config) error {
	printBanner()

	profiles, err := profile.NewManager(cfg.ProfilePath, cfg.ProfileHotReload)
	if err != nil {
		return err
	}
	defer profiles.Close()

	lc, err := cfg.LaunchConfig()
	if err != nil {
		return fmt.Errorf("invalid launch configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("preset", cfg.LaunchPreset).
		Bool("headless", lc.Headless()).
		Bool("proxy", cfg.HasProxy()).
		Msg("Starting browser session...")

	holder, err := handlers.NewSessionHolder(ctx, sessionStarter(lc, cfg.FetchTimeout), profiles.Get())
	if err != nil {
		return err
	}
	defer func() {
		if err := holder.Close(); err != nil {
			log.Error().Err(err).Msg("Browser session close error")
		}
	}()

	profiles.Subscribe(rotateOnReload(holder, rotateTimeout))

	var rateLimit func(http.Handler) http.Handler
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPM, time.Minute, cfg.TrustProxy)
		defer rateLimiter.Close()
		rateLimit = rateLimiter.Middleware
	}
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.RequestID,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.CORS(cfg.CORSAllowedOrigins),
		rateLimit,
		middleware.APIKey(cfg.APIKeyEnabled, cfg.APIKey),
	}

	fetchStats := stats.NewManager(30 * time.Minute)
	defer fetchStats.Close()

	api := handlers.New(holder, cfg).WithStats(fetchStats)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           middleware.Chain(chain...)(api.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.MaxTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to signal shutdown to background tasks
	stopCh := make(chan struct{})
	defer close(stopCh)

	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	go reloadOnSIGHUP(ctx, profiles)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("address", addr).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Bool("allow_local_urls", cfg.AllowLocalURLs).
			Msg("stealthfetch is ready to accept requests")
		return listen(server)
	})
	if metricsServer != nil {
		g.Go(func() error {
			log.Info().Int("port", cfg.PrometheusPort).Msg("Prometheus metrics server started")
			return listen(metricsServer)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		return shutdown(server, metricsServer)
	})

	err = g.Wait()
	log.Info().Msg("Shutdown complete")
	return err
}

func listen(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", s.Addr, err)
	}
	return nil
}

// shutdown stops the servers in parallel, draining in-flight requests.
func shutdown(servers ...*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range servers {
		if s == nil {
			continue
		}
		g.Go(func() error {
			if err := s.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown of %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// reloadOnSIGHUP forces a profile reload on each SIGHUP until ctx ends.
func reloadOnSIGHUP(ctx context.Context, profiles *profile.Manager) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := profiles.Reload(); err != nil {
				log.Warn().Err(err).Msg("Profile reload on SIGHUP failed")
			}
		}
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
     _            _ _   _     __      _       _
 ___| |_ ___  __ _| | |_| |__ / _| ___| |_ ___| |__
/ __| __/ _ \/ _' | | __| '_ \ |_ / _ \ __/ __| '_ \
\__ \ ||  __/ (_| | | |_| | | |  _|  __/ || (__| | | |
|___/\__\___|\__,_|_|\__|_| |_|_|  \___|\__\___|_| |_|
`
	fmt.Fprintln(os.Stderr, banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting stealthfetch")
}
