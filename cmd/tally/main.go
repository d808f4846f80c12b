package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tally/internal/config"
	"github.com/nvandessel/tally/internal/logger"
	"github.com/nvandessel/tally/internal/seed"
	"github.com/nvandessel/tally/internal/store"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tally",
		Short: "Tally - expense duplicate review and task editing",
		Long: `tally keeps a project-local ledger of expense transactions and tasks.

It walks you through resolving transactions flagged as duplicates one
conflicting field at a time, and edits task descriptions with a character
limit and change detection.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newSeedCmd(),
		newReviewCmd(),
		newTaskCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// setupLogging attaches a logger built from config and flags to the
// command's context.
func setupLogging(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	lc := logger.DefaultConfig()
	lc.Level = logger.ParseLevel(cfg.Logging.Level)
	lc.JSON = cfg.Logging.JSON
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		lc.Level = logger.ParseLevel(level)
	}
	if jsonLogs, _ := cmd.Flags().GetBool("log-json"); jsonLogs {
		lc.JSON = true
	}
	lc.Output = cmd.ErrOrStderr()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logger.ContextWithLogger(ctx, logger.NewLogger(lc)))
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.TallyConfig, error) {
	root, _ := cmd.Flags().GetString("root")
	cfg, err := config.LoadForRoot(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured backend. The memory backend starts from the
// demo fixture so commands have something to work on.
func openStore(cmd *cobra.Command) (store.Store, *config.TallyConfig, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	root, _ := cmd.Flags().GetString("root")

	if cfg.Store.Backend == "memory" {
		s := store.NewInMemoryStore()
		f, err := seed.Demo()
		if err != nil {
			return nil, nil, err
		}
		if _, err := seed.NewSeeder(s).Seed(cmd.Context(), f); err != nil {
			return nil, nil, fmt.Errorf("failed to seed memory store: %w", err)
		}
		return s, cfg, nil
	}

	if _, err := os.Stat(store.LocalTallyPath(root)); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf(".tally not initialized. Run 'tally init' first")
	}
	s, err := store.NewSQLiteStore(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tally version %s\n", version)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a tally ledger in the project root",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			demo, _ := cmd.Flags().GetBool("demo")

			s, err := store.NewSQLiteStore(root)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer s.Close()

			out := map[string]any{
				"status": "initialized",
				"path":   store.LocalTallyPath(root),
			}
			if demo {
				f, err := seed.Demo()
				if err != nil {
					return err
				}
				result, err := seed.NewSeeder(s).Seed(cmd.Context(), f)
				if err != nil {
					return fmt.Errorf("failed to seed demo data: %w", err)
				}
				out["seeded"] = result
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized .tally/ in %s\n", root)
			if demo {
				fmt.Fprintln(cmd.OutOrStdout(), "Seeded demo transactions and tasks")
			}
			return nil
		},
	}
	cmd.Flags().Bool("demo", false, "Seed the ledger with demo data")
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load transactions and tasks from a YAML fixture",
		Long: `Load transactions and tasks from a YAML fixture into the ledger.

Seeding is idempotent: records that already match are skipped and changed
records are overwritten.

Example:
  tally seed fixtures/march.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := seed.NewSeeder(s).SeedFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d records: %d added, %d updated, %d unchanged\n",
				result.Total, len(result.Added), len(result.Updated), len(result.Skipped))
			return nil
		},
	}
}
