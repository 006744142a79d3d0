// cmd/calorie-log/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mcp-calorie-log/internal/analysis"
	"mcp-calorie-log/internal/config"
	"mcp-calorie-log/internal/confirm"
	"mcp-calorie-log/internal/ledger"
	"mcp-calorie-log/internal/logging"
	"mcp-calorie-log/internal/models"
	"mcp-calorie-log/internal/server"
	"mcp-calorie-log/internal/storage"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "calorie-log",
	Short: "Daily calorie ledger with AI-assisted food logging",
	Long: `calorie-log keeps a per-user daily calorie ledger and exposes it as
tool calls over HTTP for a chat bot. Model output from image or text
analysis is normalized into nutrition records before it is logged.

Run without arguments to start the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool endpoint",
	RunE:  runServe,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print one user's record for a day",
	RunE:  runShow,
}

var promptCmd = &cobra.Command{
	Use:   "prompt [description]",
	Short: "Print the analysis prompt given to the model",
	RunE:  runPrompt,
}

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Normalize a raw model response (file or stdin) into a nutrition record",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runParse,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default config file to --config",
	// Writes the config rather than reading it.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DefaultConfig().Save(configPath, forceInit); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", configPath)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	// No config or logger needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "calorie-log version", config.DefaultConfig().Version)
	},
}

var (
	showUser  string
	showDate  string
	textMode  bool
	forceInit bool
	shutdownT = 10 * time.Second
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to YAML config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	showCmd.Flags().StringVarP(&showUser, "user", "u", "", "user id")
	showCmd.Flags().StringVarP(&showDate, "date", "d", "", "day (YYYY-MM-DD), defaults to today")
	_ = showCmd.MarkFlagRequired("user")

	promptCmd.Flags().BoolVar(&textMode, "text", false, "text-only estimate instead of image analysis")

	initConfigCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite an existing config file")

	rootCmd.AddCommand(serveCmd, showCmd, promptCmd, parseCmd, initConfigCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openBook(ctx context.Context) (*ledger.Book, storage.Store, error) {
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path, logger)
	if err != nil {
		return nil, nil, err
	}
	book, err := ledger.New(ctx, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return book, store, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	book, store, err := openBook(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	confirms := confirm.New(logger, confirm.WithTimeout(cfg.ConfirmTimeout()))
	srv := server.NewCalorieLogServer(&server.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Name:    cfg.Name,
		Version: cfg.Version,
	}, book, confirms, logger)

	logger.Info("calorie log ready",
		zap.String("addr", cfg.Addr()),
		zap.String("driver", cfg.Storage.Driver),
		zap.String("path", cfg.Storage.Path),
		zap.Duration("confirm_timeout", cfg.ConfirmTimeout()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownT)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}

func runShow(cmd *cobra.Command, args []string) error {
	book, store, err := openBook(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	day := book.Today()
	if showDate != "" {
		if day, err = models.ParseDay(showDate); err != nil {
			return err
		}
	}

	rec := book.Read(showUser, day)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s  total %d kcal\n", showUser, day, rec.TotalCalories)
	for i, f := range rec.Foods {
		fmt.Fprintf(out, "  #%d  %-30s %5d kcal  %s\n", i+1, f.Name, f.Calories, f.Timestamp.Local().Format("15:04"))
	}
	return nil
}

func runPrompt(cmd *cobra.Command, args []string) error {
	desc := strings.Join(args, " ")
	if textMode {
		if desc == "" {
			return fmt.Errorf("text mode needs a food description")
		}
		fmt.Fprintln(cmd.OutOrStdout(), analysis.TextPrompt(desc))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), analysis.ImagePrompt(desc))
	return nil
}

func runParse(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	rec := analysis.ParseResponse(string(raw))
	if rec.Degraded() {
		logger.Warn("response could not be parsed, showing fallback estimate")
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
