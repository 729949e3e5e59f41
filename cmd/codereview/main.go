// Package main implements the codereview CLI: review source files with a
// language model and, on request, fix what the review finds.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codereview/internal/completion"
	"github.com/fyrsmithlabs/codereview/internal/config"
	"github.com/fyrsmithlabs/codereview/internal/logging"
	"github.com/fyrsmithlabs/codereview/internal/review"
	"github.com/fyrsmithlabs/codereview/internal/secrets"
	"github.com/fyrsmithlabs/codereview/internal/telemetry"
)

var (
	// version information
	version = "dev"

	configPath       string
	fixFlag          bool
	maxFixIterations int
	concurrency      int
	outputFormat     string
	metricsAddr      string
	dryRun           bool
)

// errReviewIncomplete makes the exit status non-zero when any review failed.
var errReviewIncomplete = errors.New("one or more reviews did not complete")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "codereview",
	Short: "Review code with a language model",
	Long: `codereview runs a review pipeline over source code: measurements, analysis,
a style check, simulated tests, and written feedback. With --fix it then
iterates on a fix until a validator accepts it or the attempts run out.`,
	Version: version,
}

var reviewCmd = &cobra.Command{
	Use:   "review [file...]",
	Short: "Review files, or stdin when no file is given",
	Long: `Review one or more files. Reports go to stdout, logs to stderr.

Examples:
  # Review a file
  codereview review main.go

  # Review and fix
  codereview review --fix --max-fix-iterations 5 main.go

  # Review stdin as JSON without calling a provider
  cat main.go | codereview review --dry-run --format json`,
	RunE: runReview,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "codereview %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/codereview/config.yaml)")

	reviewCmd.Flags().BoolVar(&fixFlag, "fix", false, "fix the code when the review warrants it")
	reviewCmd.Flags().IntVar(&maxFixIterations, "max-fix-iterations", 0, "maximum fix attempts (default from config)")
	reviewCmd.Flags().IntVar(&concurrency, "concurrency", 0, "files reviewed in parallel (default from config)")
	reviewCmd.Flags().StringVar(&outputFormat, "format", "markdown", "report format: markdown or json")
	reviewCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	reviewCmd.Flags().BoolVar(&dryRun, "dry-run", false, "use canned replies instead of a completion provider")

	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(versionCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	if outputFormat != "markdown" && outputFormat != "json" {
		return fmt.Errorf("unknown format %q: want markdown or json", outputFormat)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath, flagOverrides(cmd))
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return err
	}
	logCfg.Output.Writer = cmd.ErrOrStderr()
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	ctx = logging.WithLogger(ctx, logger)

	reqs, err := readRequests(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	client, err := newClient(cfg.Completion)
	if err != nil {
		return err
	}
	client = completion.Instrument(client, cfg.Completion.Provider, cfg.Completion.Model, tel.TracerProvider())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(ctx, logger, cfg.Metrics.Addr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	scrubber, err := secrets.FromSettings(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("invalid secrets config: %w", err)
	}

	assistant, err := review.New(client, review.Options{
		MaxFixIterations: cfg.Pipeline.MaxFixIterations,
		StageTimeout:     cfg.Pipeline.StageTimeout.Duration(),
		TracerProvider:   tel.TracerProvider(),
		Metrics:          review.NewMetrics(reg),
		Scrubber:         scrubber,
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "starting review",
		zap.Int("files", len(reqs)),
		zap.Bool("fix", fixFlag),
		zap.String("provider", cfg.Completion.Provider),
		zap.Int("concurrency", cfg.Pipeline.Concurrency))

	reports, err := assistant.ReviewAll(ctx, reqs, cfg.Pipeline.Concurrency)
	if werr := writeReports(cmd.OutOrStdout(), reports); werr != nil {
		return fmt.Errorf("failed to write report: %w", werr)
	}
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	for _, r := range reports {
		if r != nil && !r.Succeeded() {
			return errReviewIncomplete
		}
	}
	return nil
}

// flagOverrides lets explicit flags override the loaded configuration.
func flagOverrides(cmd *cobra.Command) config.Override {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if dryRun {
			cfg.Completion.Provider = config.ProviderScripted
		}
		if flags.Changed("max-fix-iterations") {
			cfg.Pipeline.MaxFixIterations = maxFixIterations
		}
		if flags.Changed("concurrency") {
			cfg.Pipeline.Concurrency = concurrency
		}
		if flags.Changed("metrics-addr") {
			cfg.Metrics.Addr = metricsAddr
		}
	}
}

func newClient(cfg config.CompletionConfig) (completion.Client, error) {
	if cfg.Provider == config.ProviderScripted {
		return review.DryRunClient(), nil
	}
	return completion.New(cfg)
}

// readRequests reads each file, or stdin when args is empty or "-".
func readRequests(args []string, stdin io.Reader) ([]review.Request, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		if len(content) == 0 {
			return nil, review.ErrNothingToReview
		}
		return []review.Request{{Target: "stdin", Code: string(content), Fix: fixFlag}}, nil
	}

	reqs := make([]review.Request, 0, len(args))
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		reqs = append(reqs, review.Request{Target: path, Code: string(content), Fix: fixFlag})
	}
	return reqs, nil
}

func writeReports(w io.Writer, reports []*review.Report) error {
	if outputFormat == "json" {
		return review.WriteJSON(w, reports)
	}
	return review.WriteMarkdown(w, reports)
}

func serveMetrics(ctx context.Context, logger *logging.Logger, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(ctx, "serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
