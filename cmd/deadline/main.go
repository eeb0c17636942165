package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/cache"
	"github.com/TobiSchelling/Deadline/internal/config"
	"github.com/TobiSchelling/Deadline/internal/database"
	"github.com/TobiSchelling/Deadline/internal/logging"
	"github.com/TobiSchelling/Deadline/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "deadline",
	Short:   "Event research pipeline",
	Long:    "Deadline researches tracked events across the web, extracts structured details with an LLM, and serves them over a JSON API.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		// A missing .env is fine; real deployments set the environment directly.
		_ = godotenv.Load()

		path, err := config.ResolveConfigPath(configPath)
		switch {
		case err == nil:
			cfg, err = config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		case configPath == "":
			cfg = config.Default()
		default:
			return err
		}

		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		if path == "" {
			logger.Debug("no config file found, using defaults")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(updatesCmd)
	rootCmd.AddCommand(eventsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("deadline", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/deadline/",
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
		fmt.Println("Set the API keys named by the *_env entries in your environment or a .env file.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(ctx, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s", db.Driver())
		if db.Path() != "" {
			fmt.Printf(" (%s)", db.Path())
		}
		fmt.Println()
		fmt.Println("\nEvents:")
		fmt.Printf("  Tracked: %d\n", stats.Events)
		fmt.Printf("  With details: %d\n", stats.EventsWithDetails)
		fmt.Printf("  Stale (>24h): %d\n", stats.StaleEvents)
		fmt.Printf("  Updates stored: %d\n", stats.EventUpdates)
		fmt.Println("\nProviders:")
		fmt.Printf("  Search: %s (%s)\n", cfg.Search.Provider, configured(searchConfigured()))
		fmt.Printf("  LLM: %s / %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model, configured(os.Getenv(cfg.LLM.APIKeyEnv) != "" || cfg.LLM.Provider == "ollama"))
		fmt.Printf("  Cache: %s\n", cacheKind())
		fmt.Printf("  API key: %s\n", configured(cfg.APIKey() != ""))
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if cfg.APIKey() == "" {
			logger.Warn("no API key configured; protected endpoints will reject every request",
				zap.String("env", cfg.Server.APIKeyEnv))
		}
		if r, ok := a.cache.(*cache.Redis); ok {
			go r.Subscribe(ctx, func(n cache.Notice) {
				logger.Info("revalidation notice", zap.Strings("tags", n.Tags), zap.Bool("all", n.All), zap.Time("at", n.At))
			})
		}

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		srv := server.New(server.Deps{
			DB:       a.db,
			Analyzer: a.analyzer,
			Updater:  a.updater,
			Pages:    a.scraper,
			Cache:    a.cache,
			Metrics:  a.metrics,
			Logger:   logger.Named("http"),
			APIKey:   cfg.APIKey(),
			TTL:      cfg.Cache.TTL(),
			TitleTTL: cfg.Cache.TitleTTL(),
		})
		fmt.Printf("Starting server at http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.ListenAndServe(ctx, cfg.Server)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
}

// --- analyze command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [event-id]",
	Short: "Run the full analysis for an event: search -> scrape -> pack -> extract -> save",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEventID(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.analyzer.Analyze(ctx, id)
		if result != nil {
			for _, w := range result.Windows {
				fmt.Printf("%-40s found %2d  accepted %2d  scraped %2d\n", w.Label+" ("+w.Span+")", w.Found, w.Accepted, w.Scraped)
			}
			for i, step := range result.Steps {
				fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
				if step.Err != nil {
					fmt.Printf("  Error: %v\n", step.Err)
				} else {
					fmt.Printf("  %s\n", step.Summary)
				}
			}
		}
		if err != nil {
			return err
		}

		fmt.Printf("\nAnalysis complete in %s (run %s)\n", result.Elapsed.Round(time.Millisecond), result.RunID)
		fmt.Printf("  Headline: %s\n", result.Details.Headline)
		fmt.Printf("  Sources: %d, images: %d, timeline entries: %d\n",
			result.SourcesCount, result.ImagesCount, len(result.Details.Timeline))
		return nil
	},
}

// --- updates command ---

var updatesCmd = &cobra.Command{
	Use:   "updates [event-id]",
	Short: "Search for developments newer than an event's last update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEventID(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.updater.Run(ctx, id)
		if err != nil {
			return err
		}

		d := result.Debug
		fmt.Printf("Last updated: %s (%d days ago)\n", result.LastUpdated, d.DaysSinceLastUpdate)
		fmt.Printf("Search results: %d, newer than watermark: %d\n", d.SearchResultsCount, d.FilteredResultCount)
		fmt.Println(result.Message)
		for _, u := range result.Updates {
			fmt.Printf("  [%s] %s (relevance %.1f)\n", u.UpdateDate, u.Title, u.RelevanceScore)
		}
		if result.NewWatermark != "" {
			fmt.Printf("Watermark advanced to %s\n", result.NewWatermark)
		}
		return nil
	},
}

// --- events command ---

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Manage tracked events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		events, err := db.ListEvents(ctx)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No events tracked. Add one with: deadline events add")
			return nil
		}

		for _, e := range events {
			updated := "never"
			if e.LastUpdated != nil {
				updated = e.LastUpdated.Format("2006-01-02 15:04")
			}
			fmt.Printf("  [%d] %s\n", e.ID, e.Title)
			fmt.Printf("        status: %s  last updated: %s\n", orDash(e.Status), updated)
			if e.Query != e.Title {
				fmt.Printf("        query: %s\n", e.Query)
			}
		}
		return nil
	},
}

var (
	newEvent     database.NewEvent
	incidentDate string
	eventSummary string
	eventImage   string
)

var eventsAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add an event to track",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		e := newEvent
		e.Title = strings.TrimSpace(args[0])
		if e.Title == "" {
			return errors.New("title must not be empty")
		}
		e.IncidentDate = optionalFlag(incidentDate)
		e.Summary = optionalFlag(eventSummary)
		e.ImageURL = optionalFlag(eventImage)

		id, err := db.InsertEvent(ctx, e)
		if err != nil {
			return err
		}
		fmt.Printf("Added event [%d]: %s\n", id, e.Title)
		fmt.Printf("Run 'deadline analyze %d' to research it.\n", id)
		return nil
	},
}

func init() {
	f := eventsAddCmd.Flags()
	f.StringVar(&newEvent.Query, "query", "", "Search query (defaults to the title)")
	f.StringVar(&newEvent.Status, "status", "", "Status label, e.g. justice or injustice")
	f.StringSliceVar(&newEvent.Tags, "tag", nil, "Tag (repeatable)")
	f.StringVar(&incidentDate, "incident-date", "", "Date of the incident (YYYY-MM-DD)")
	f.StringVar(&eventSummary, "summary", "", "Short summary")
	f.StringVar(&eventImage, "image", "", "Image URL")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsAddCmd)
}

func parseEventID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event ID: %s", s)
	}
	return id, nil
}

func optionalFlag(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
