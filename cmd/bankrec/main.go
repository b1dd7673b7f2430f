package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jask/bankrec/internal/config"
	"github.com/jask/bankrec/internal/database"
	"github.com/jask/bankrec/internal/database/repository"
	"github.com/jask/bankrec/internal/logging"
	"github.com/jask/bankrec/internal/service"
)

// app bundles everything the commands need.
type app struct {
	cfg        config.Config
	db         *sql.DB
	log        zerolog.Logger
	ingest     *service.IngestService
	reconciler *service.Reconciler
	statements *repository.StatementRepo
	ledger     *repository.LedgerRepo
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "bankrec",
		Short:         "bankrec reconciles imported bank statements against your recorded ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.db != nil {
				_ = a.db.Close()
			}
		},
	}
	root.AddCommand(newImportCmd(a), newReconcileCmd(a), newSeedCmd(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path, cfg.Database.MigrationsPath); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	a.db = db

	a.statements = repository.NewStatementRepo(db)
	a.ledger = repository.NewLedgerRepo(db)
	recRepo := repository.NewReconciliationRepo(db)
	matchRepo := repository.NewMatchRepo(db)

	matching, completionTolerance, err := matcherConfig(cfg.Matching)
	if err != nil {
		return err
	}
	a.ingest = &service.IngestService{Statements: a.statements, Ledger: a.ledger}
	a.reconciler = &service.Reconciler{
		Statements:          a.statements,
		Ledger:              a.ledger,
		Reconciliations:     recRepo,
		Matches:             matchRepo,
		Matching:            matching,
		CompletionTolerance: completionTolerance,
		Log:                 a.log,
	}
	return nil
}

func matcherConfig(m config.MatchingConfig) (service.MatcherConfig, decimal.Decimal, error) {
	cfg := service.DefaultMatcherConfig()
	if m.WindowDays > 0 {
		cfg.WindowDays = m.WindowDays
	}
	if m.AutoAcceptThreshold > 0 {
		cfg.AutoAcceptThreshold = m.AutoAcceptThreshold
	}
	if m.SuggestThreshold > 0 {
		cfg.SuggestThreshold = m.SuggestThreshold
	}
	if m.MaxCandidates > 0 {
		cfg.MaxCandidates = m.MaxCandidates
	}
	if m.MaxSuggestionsPerLine > 0 {
		cfg.MaxSuggestionsPerLine = m.MaxSuggestionsPerLine
	}
	if m.AmountTolerance != "" {
		tol, err := decimal.NewFromString(m.AmountTolerance)
		if err != nil {
			return cfg, decimal.Zero, fmt.Errorf("matching.amount_tolerance: %w", err)
		}
		cfg.AmountTolerance = tol
	}
	completion := decimal.Zero
	if m.CompletionTolerance != "" {
		tol, err := decimal.NewFromString(m.CompletionTolerance)
		if err != nil {
			return cfg, decimal.Zero, fmt.Errorf("matching.completion_tolerance: %w", err)
		}
		completion = tol
	}
	return cfg, completion, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
