// chainbrief generates multi-source cryptocurrency research reports.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"chainbrief/internal/assemble"
	"chainbrief/internal/bind"
	"chainbrief/internal/cache"
	"chainbrief/internal/config"
	"chainbrief/internal/gather"
	"chainbrief/internal/narrative"
	"chainbrief/internal/report"
	"chainbrief/internal/source"
	"chainbrief/internal/viz"
	"chainbrief/internal/workflow"
)

var (
	// Global flags
	verbose    bool
	configPath string
	specPath   string
	outputDir  string
	format     string
	noLLM      bool
	cacheDB    string
	fanOut     int
	runTimeout time.Duration

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chainbrief",
	Short: "chainbrief - resilient cryptocurrency research reports",
	Long: `chainbrief builds research reports from multiple market data sources.

A run plans per-section gathering tasks, fetches through a durable cache,
merges sources by priority with deterministic fallback for anything missing,
generates the narrative, renders charts, and assembles the final document.
Source outages degrade the report; they do not fail it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [subject]",
	Short: "Generate a research report for a subject",
	Long: `Runs the full pipeline for one subject, for example:

  chainbrief run Solana
  chainbrief run "Bitcoin" --format markdown --output ./reports`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Print the default report specification as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(report.DefaultSpec())
		if err != nil {
			return fmt.Errorf("failed to marshal specification: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "chainbrief.yaml", "configuration file path")

	runCmd.Flags().StringVar(&specPath, "spec", "", "report specification YAML (default: built-in)")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (overrides config)")
	runCmd.Flags().StringVar(&format, "format", "", "output format: pdf or markdown (overrides config)")
	runCmd.Flags().BoolVar(&noLLM, "no-llm", false, "skip narrative generation, use deterministic text")
	runCmd.Flags().StringVar(&cacheDB, "cache-db", "", "cache database path (overrides config)")
	runCmd.Flags().IntVar(&fanOut, "parallelism", 0, "gathering fan-out width (overrides config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "whole-run timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(specCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	subject := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if outputDir != "" {
		cfg.Render.OutputDir = outputDir
	}
	if format != "" {
		cfg.Render.Format = format
	}
	if cacheDB != "" {
		cfg.Cache.DatabasePath = cacheDB
	}
	if fanOut > 0 {
		cfg.Gather.Parallelism = fanOut
	}

	spec := report.DefaultSpec()
	if specPath != "" {
		spec, err = report.Load(specPath)
		if err != nil {
			return err
		}
	}

	store, err := cache.Open(cfg.Cache.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var generator narrative.Generator
	if !noLLM {
		generator, err = narrative.NewGenerator(narrative.ProviderConfig{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
			Model:    cfg.LLM.Model,
		}, logger)
		if err != nil {
			return err
		}
		if generator == nil {
			logger.Warn("no narrative provider configured, reports will use deterministic text")
		}
	}

	engine := workflow.New(workflow.Deps{
		Aggregator: gather.New(buildAdapters(cfg), store, logger, gather.Config{
			Parallelism: int64(cfg.Gather.Parallelism),
			TaskTimeout: cfg.GetTaskTimeout(),
			TTL:         cfg.GetCacheTTL(),
		}),
		Generator:  generator,
		Visualizer: viz.New(viz.NewChartFiles(filepath.Join(cfg.Render.OutputDir, "charts"), logger), logger, int64(cfg.Render.ChartParallelism)),
		Sections:   bind.New(logger),
		Assembler:  assemble.New(logger),
		Renderer:   buildRenderer(cfg),
		Logger:     logger,
	}, workflow.Options{
		RunTimeout: runTimeout,
		OnProgress: func(p workflow.Progress) {
			fmt.Fprintf(os.Stderr, "[%3d%%] %-12s %s\n", p.Percent, p.Stage, p.Message)
		},
	})

	result, err := engine.Run(ctx, subject, spec)
	if err != nil {
		if result != nil && result.ArtifactPath != "" {
			fmt.Fprintf(os.Stderr, "run failed, degraded report written to %s\n", result.ArtifactPath)
		}
		return err
	}

	fmt.Printf("Report written to %s\n", result.ArtifactPath)
	if result.State.HasSynthetic() {
		fmt.Println("Note: some data points are estimates; live sources were unavailable.")
	}
	return nil
}

func buildAdapters(cfg *config.Config) []source.Adapter {
	adapters := []source.Adapter{
		source.NewCoinGecko(cfg.Sources.CoinGeckoAPIKey, logger),
		source.NewDeFiLlama(logger),
	}
	if cfg.Sources.CoinMarketCapAPIKey != "" {
		adapters = append(adapters, source.NewCoinMarketCap(cfg.Sources.CoinMarketCapAPIKey, logger))
	}
	if cfg.Sources.TavilyAPIKey != "" {
		adapters = append(adapters, source.NewWebSearch(cfg.Sources.TavilyAPIKey, logger))
	}
	return adapters
}

func buildRenderer(cfg *config.Config) assemble.DocumentRenderer {
	if cfg.Render.Format == "markdown" {
		return assemble.NewMarkdownRenderer(cfg.Render.OutputDir, logger)
	}
	return assemble.NewPDFRenderer(cfg.Render.OutputDir, logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
