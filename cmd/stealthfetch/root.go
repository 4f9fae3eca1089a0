package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/stealthfetch/internal/config"
	"github.com/Rorqualx/stealthfetch/pkg/version"
)

var (
	// Global flags
	logLevel  string
	preset    string
	proxyPort int
	dataDir   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stealthfetch",
	Short: "Fetch rendered HTML through a stealth-configured headless browser",
	Long: `stealthfetch drives a headless Chromium over the DevTools protocol with
anti-fingerprinting launch flags, a spoofed geolocation and timezone, and a
browser-like header set, and returns the rendered HTML of each page.

Configuration comes from environment variables; flags override them.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = loadConfig(cmd)
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (default from LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "Launch preset: stealth or default (default from LAUNCH_PRESET)")
	rootCmd.PersistentFlags().IntVar(&proxyPort, "proxy-port", 0, "Route browser traffic through http://localhost:PORT")
	rootCmd.PersistentFlags().StringVar(&dataDir, "user-data-dir", "", "Persistent browser profile directory (kept on exit)")

	rootCmd.AddCommand(serveCmd, fetchCmd)
}

// loadConfig reads the environment, applies flags that were set, then validates.
func loadConfig(cmd *cobra.Command) *config.Config {
	c := config.Load()

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("preset") {
		c.LaunchPreset = preset
	}
	if flags.Changed("proxy-port") {
		c.ProxyPort = proxyPort
	}
	if flags.Changed("user-data-dir") {
		c.UserDataDir = dataDir
	}
	applyCommandFlags(cmd, c)

	// Logging first so validation warnings are visible
	setupLogging(c.LogLevel)
	c.Validate()
	return c
}

// applyCommandFlags copies subcommand flags onto the config.
func applyCommandFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		c.Host = serveHost
	}
	if flags.Changed("port") {
		c.Port = servePort
	}
	if flags.Changed("concurrency") {
		c.FetchConcurrency = fetchConcurrency
	}
	if flags.Changed("timeout") {
		c.FetchTimeout = fetchTimeout
	}
	// fetch always follows --allow-local; ALLOW_LOCAL_URLS only governs serve.
	if flags.Lookup("allow-local") != nil {
		c.AllowLocalURLs = fetchAllowLocal
	}
	if flags.Changed("headful") && fetchHeadful {
		headless := false
		c.Headless = &headless
	}
}

// setupLogging configures zerolog for console output at the given level.
// Logs go to stderr so fetched HTML on stdout stays clean.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
