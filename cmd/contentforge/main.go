package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/ContentForge/internal/config"
	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/logging"
	"github.com/TobiSchelling/ContentForge/internal/pipeline"
	"github.com/TobiSchelling/ContentForge/internal/plan"
	"github.com/TobiSchelling/ContentForge/internal/resume"
	"github.com/TobiSchelling/ContentForge/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "contentforge",
	Short:   "Resumable content strategy generation",
	Long:    "ContentForge plans pillar and cluster articles, diagnoses broken or stalled generations, and resumes them safely.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("configuring logging: %w", err)
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(strategyCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(resumeAllCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("contentforge", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/contentforge/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose the LLM provider and research feeds.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Printf("Strategies: %d\n", stats.Strategies)
		fmt.Printf("Articles: %d\n", stats.Articles)
		for _, stage := range database.Stages {
			fmt.Printf("  %-11s %d\n", stage, stats.ByStage[stage])
		}
		fmt.Printf("Generation runs: %d\n", stats.Runs)
		return nil
	},
}

// --- strategy commands ---

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Manage content strategies",
}

var strategyCreateCmd = &cobra.Command{
	Use:   "create [plan.yaml]",
	Short: "Create a strategy and plan its articles from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := plan.Load(args[0])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		s, err := db.CreateStrategy(*ns)
		if err != nil {
			return err
		}
		fmt.Printf("Created strategy [%d] %s: %d pillar and %d cluster articles planned\n",
			s.ID, s.Name, s.PillarTarget, s.ClusterTarget)
		return nil
	},
}

var strategyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		strategies, err := db.ListStrategies()
		if err != nil {
			return err
		}
		if len(strategies) == 0 {
			fmt.Println("No strategies defined. Create one with: contentforge strategy create plan.yaml")
			return nil
		}

		for _, s := range strategies {
			counts, err := db.CountByStage(s.ID)
			if err != nil {
				return err
			}
			last, err := db.LastRunTime(s.ID)
			if err != nil {
				return err
			}
			lastRun := "never run"
			if !last.IsZero() {
				lastRun = "last run " + last.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("  [%d] %s  (%d/%d generated, %d published, %s)\n",
				s.ID, bold(s.Name), counts[database.StageGenerated], s.TotalTarget(),
				counts[database.StagePublished], lastRun)
		}
		return nil
	},
}

func init() {
	strategyCmd.AddCommand(strategyCreateCmd)
	strategyCmd.AddCommand(strategyListCmd)
}

// --- diagnose command ---

var diagnoseJSON bool

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [strategy-id]",
	Short: "Classify every article of a strategy and recommend actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "strategy")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db, logger, nil)
		d, err := pipe.Diagnose(cmd.Context(), id)
		if err != nil {
			return err
		}
		if diagnoseJSON {
			return printJSON(d)
		}
		printDiagnosis(d)
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "Print the diagnosis as JSON")
}

// --- resume and generate commands ---

var (
	dryRun bool
	policy = resume.DefaultPolicy()
)

var resumeCmd = &cobra.Command{
	Use:   "resume [strategy-id]",
	Short: "Repair and complete a strategy according to the resume policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "strategy")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db, logger, nil)
		if dryRun {
			q, d, err := pipe.DryRun(cmd.Context(), id, policy)
			if err != nil {
				return err
			}
			printDiagnosis(d)
			printQueue(q)
			return nil
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		sum, err := pipe.Resume(ctx, id, policy, consoleEmitter())
		if err != nil {
			return err
		}
		return summaryErr(sum)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [strategy-id]",
	Short: "Generate the planned articles of a strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "strategy")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		pipe := pipeline.New(cfg, db, logger, nil)
		sum, err := pipe.Generate(ctx, id, consoleEmitter())
		if err != nil {
			return err
		}
		return summaryErr(sum)
	},
}

var resumeAllCmd = &cobra.Command{
	Use:   "resume-all",
	Short: "Resume every strategy",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		pipe := pipeline.New(cfg, db, logger, nil)
		results, err := pipe.ResumeAll(ctx, policy, batchEmitter)
		if err != nil {
			return err
		}

		failed := 0
		fmt.Println()
		for _, r := range results {
			switch {
			case r.Err != nil:
				failed++
				fmt.Printf("  %s [%d] %s: %v\n", red("✗"), r.StrategyID, r.Name, r.Err)
			case r.Summary != nil:
				fmt.Printf("  %s [%d] %s: %s\n", green("✓"), r.StrategyID, r.Name, summaryLine(r.Summary))
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d strategies failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{resumeCmd, resumeAllCmd} {
		c.Flags().BoolVar(&policy.RegenerateCorrupted, "regenerate-corrupted", policy.RegenerateCorrupted, "Regenerate corrupted articles")
		c.Flags().BoolVar(&policy.ResetStuck, "reset-stuck", policy.ResetStuck, "Reset and regenerate stuck articles")
		c.Flags().BoolVar(&policy.GeneratePlanned, "generate-planned", policy.GeneratePlanned, "Generate planned articles")
		c.Flags().BoolVar(&policy.SkipGenerated, "skip-generated", policy.SkipGenerated, "Leave healthy generated articles alone")
		c.Flags().BoolVar(&policy.FixLowQuality, "fix-low-quality", policy.FixLowQuality, "Regenerate low-quality articles")
	}
	resumeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the queue without generating anything")
}

// --- publish and runs commands ---

var publishCmd = &cobra.Command{
	Use:   "publish [article-id]",
	Short: "Mark a generated article as published",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "article")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		a, err := db.MarkPublished(id)
		if errors.Is(err, database.ErrStaleState) {
			return fmt.Errorf("article %d is not generated", id)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Published [%d] %s\n", a.ID, a.Title)
		return nil
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [strategy-id]",
	Short: "Show recent generation runs of a strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "strategy")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.GetRunsForStrategy(id, runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}
		for _, r := range runs {
			printRun(r)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "Number of runs to show")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		pipe := pipeline.New(cfg, db, logger, reg)
		srv, err := server.New(db, pipe, reg, logger.Named("server"))
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "contentforge.db")
	return database.Open(dbPath)
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s ID: %s", what, arg)
	}
	return id, nil
}

// signalContext is cancelled on the first Ctrl+C. The article being
// generated at that moment still finishes.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)
