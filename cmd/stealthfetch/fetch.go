package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/stealthfetch/internal/config"
	"github.com/Rorqualx/stealthfetch/internal/profile"
	"github.com/Rorqualx/stealthfetch/internal/security"
	"github.com/Rorqualx/stealthfetch/internal/session"
	"github.com/Rorqualx/stealthfetch/internal/types"
)

var (
	fetchOutDir      string
	fetchHeaders     []string
	fetchNoHeaders   bool
	fetchConcurrency int
	fetchTimeout     time.Duration
	fetchAllowLocal  bool
	fetchHeadful     bool
	fetchQuiet       bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch URL...",
	Short: "Fetch rendered HTML for one or more URLs",
	Long: `Start one stealth browser session, fetch every URL in its own page and
write the HTML to stdout (in argument order) or to files under --out.

-H replaces the profile's default headers for every fetch of this run;
--no-headers sends no extra headers at all.`,
	Example: `  stealthfetch fetch https://example.com
  stealthfetch fetch -H 'accept-language: fr-FR' --out pages/ https://a.example https://b.example`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetch(cmd.Context(), cfg, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	f := fetchCmd.Flags()
	f.StringVarP(&fetchOutDir, "out", "o", "", "Write each page to a file in this directory instead of stdout")
	f.StringArrayVarP(&fetchHeaders, "header", "H", nil, "Header override 'name: value' (repeatable, replaces profile defaults)")
	f.BoolVar(&fetchNoHeaders, "no-headers", false, "Send no extra headers")
	f.IntVarP(&fetchConcurrency, "concurrency", "c", 0, "Parallel fetches (default from FETCH_CONCURRENCY)")
	f.DurationVar(&fetchTimeout, "timeout", 0, "Per-fetch timeout (default from FETCH_TIMEOUT or the preset)")
	f.BoolVar(&fetchAllowLocal, "allow-local", true, "Allow loopback and private addresses")
	f.BoolVar(&fetchHeadful, "headful", false, "Show the browser window")
	f.BoolVarP(&fetchQuiet, "quiet", "q", false, "Do not print the summary table")
}

// fetchResult is the outcome of one URL.
type fetchResult struct {
	URL      string
	HTML     string
	File     string
	Err      error
	Duration time.Duration
}

func runFetch(ctx context.Context, cfg *config.Config, urls []string, stdout, stderr io.Writer) error {
	// The CLI user owns the machine, so local targets follow --allow-local.
	for _, u := range urls {
		if err := security.ValidateFetchURL(u, cfg.AllowLocalURLs); err != nil {
			return fmt.Errorf("%s: %w", security.RedactURL(u), err)
		}
	}

	overrides, err := headerOverrides(fetchHeaders, fetchNoHeaders)
	if err != nil {
		return err
	}

	p := profile.Default()
	if cfg.ProfilePath != "" {
		if p, err = profile.LoadFile(cfg.ProfilePath); err != nil {
			return err
		}
	}

	lc, err := cfg.LaunchConfig()
	if err != nil {
		return fmt.Errorf("invalid launch configuration: %w", err)
	}

	if fetchOutDir != "" {
		if err := os.MkdirAll(fetchOutDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := session.Start(ctx, lc, session.WithProfile(p), session.WithFetchTimeout(cfg.FetchTimeout))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("Browser session close error")
		}
	}()

	results := make([]fetchResult, len(urls))

	// Failures are recorded per URL; the group only stops on cancellation.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.FetchConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			start := time.Now()
			html, err := s.Fetch(gctx, u, overrides)
			results[i] = fetchResult{URL: u, HTML: html, Err: err, Duration: time.Since(start)}
			if err == nil && fetchOutDir != "" {
				results[i].File = filepath.Join(fetchOutDir, outputFileName(i, u))
				if werr := os.WriteFile(results[i].File, []byte(html), 0o644); werr != nil {
					results[i].Err = fmt.Errorf("failed to write output: %w", werr)
				}
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		if fetchOutDir == "" {
			fmt.Fprintln(stdout, r.HTML)
		}
	}

	if !fetchQuiet {
		fmt.Fprintln(stderr, renderSummary(results))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(urls))
	}
	return nil
}

// headerOverrides parses -H values. No flags and no --no-headers means the
// profile defaults apply (nil map).
func headerOverrides(values []string, none bool) (map[string]string, error) {
	if none {
		if len(values) > 0 {
			return nil, errors.New("--no-headers cannot be combined with -H")
		}
		return map[string]string{}, nil
	}
	if len(values) == 0 {
		return nil, nil
	}

	headers := make(map[string]string, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want 'name: value'", v)
		}
		headers[name] = strings.TrimSpace(value)
	}
	if err := security.ValidateHeaders(headers); err != nil {
		return nil, err
	}
	return headers, nil
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// outputFileName builds a stable, filesystem-safe name for the i-th URL.
func outputFileName(i int, rawURL string) string {
	name := "page"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		name = u.Host + u.Path
	}
	name = strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "_.")
	if len(name) > 100 {
		name = name[:100]
	}
	if name == "" {
		name = "page"
	}
	return fmt.Sprintf("%03d_%s.html", i+1, name)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderSummary renders one line per URL with its outcome.
func renderSummary(results []fetchResult) string {
	lines := []string{headerStyle.Render(fmt.Sprintf("%-8s %-10s %-9s %s", "RESULT", "KIND", "TIME", "URL"))}
	for _, r := range results {
		status, kind, detail := okStyle.Render("ok      "), "-", fmt.Sprintf("%d bytes", len(r.HTML))
		if r.File != "" {
			detail = r.File
		}
		if r.Err != nil {
			status = errStyle.Render("failed  ")
			kind = string(types.KindOf(r.Err))
			if kind == "" {
				kind = "output"
			}
			detail = r.Err.Error()
		}
		lines = append(lines, fmt.Sprintf("%s %-10s %-9s %s %s",
			status,
			kind,
			r.Duration.Round(time.Millisecond),
			security.RedactURL(r.URL),
			dimStyle.Render(detail),
		))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
