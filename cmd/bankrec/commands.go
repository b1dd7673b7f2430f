package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jask/bankrec/internal/service"
	"github.com/jask/bankrec/internal/testdata"
)

func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import statement or ledger CSV files",
	}
	cmd.AddCommand(newImportStatementCmd(a), newImportLedgerCmd(a))
	return cmd
}

func newImportStatementCmd(a *app) *cobra.Command {
	var (
		account string
		start   string
		end     string
		opening string
		closing string
	)
	cmd := &cobra.Command{
		Use:   "statement <file.csv>",
		Short: "Import a parsed bank statement (date, amount, description[, check_number][, balance_after])",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			periodStart, err := time.Parse("2006-01-02", start)
			if err != nil {
				return fmt.Errorf("--period-start: %w", err)
			}
			periodEnd, err := time.Parse("2006-01-02", end)
			if err != nil {
				return fmt.Errorf("--period-end: %w", err)
			}
			openingBal, err := decimal.NewFromString(opening)
			if err != nil {
				return fmt.Errorf("--opening: %w", err)
			}
			closingBal, err := decimal.NewFromString(closing)
			if err != nil {
				return fmt.Errorf("--closing: %w", err)
			}

			stmt, res, err := a.ingest.ImportStatementCSV(commandContext(cmd), f, service.StatementCSVParams{
				BankAccountID:  account,
				PeriodStart:    periodStart,
				PeriodEnd:      periodEnd,
				OpeningBalance: openingBal,
				ClosingBalance: closingBal,
			})
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				a.log.Warn().Err(e).Msg("skipped row")
			}
			fmt.Printf("statement %s imported: %d lines, drift %s\n", stmt.ID, res.Imported, stmt.BalanceDrift)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "bank account id")
	cmd.Flags().StringVar(&start, "period-start", "", "statement period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "period-end", "", "statement period end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opening, "opening", "0", "statement opening balance")
	cmd.Flags().StringVar(&closing, "closing", "0", "statement closing balance")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("period-start")
	_ = cmd.MarkFlagRequired("period-end")
	return cmd
}

func newImportLedgerCmd(a *app) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "ledger <file.csv>",
		Short: "Import recorded ledger transactions (date, amount, description)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := a.ingest.ImportLedgerCSV(commandContext(cmd), f, account, nil)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				a.log.Warn().Err(e).Msg("skipped row")
			}
			fmt.Printf("%d ledger transactions imported\n", res.Imported)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "bank account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newReconcileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Manage reconciliation sessions",
	}
	cmd.AddCommand(
		newReconcileCreateCmd(a),
		newReconcileAutoCmd(a),
		newReconcileMatchCmd(a),
		newReconcileUnmatchCmd(a),
		newReconcileCompleteCmd(a),
		newReconcileSuggestCmd(a),
		newReconcileSummaryCmd(a),
	)
	return cmd
}

func newReconcileCreateCmd(a *app) *cobra.Command {
	var account, statement string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a reconciliation session for an account and statement",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.reconciler.Create(commandContext(cmd), service.CreateParams{
				BankAccountID: account,
				StatementID:   statement,
			})
			if err != nil {
				return err
			}
			fmt.Printf("reconciliation %s created (opening %s, closing %s)\n",
				rec.ID, rec.OpeningBalance, rec.ClosingBalance)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "bank account id")
	cmd.Flags().StringVar(&statement, "statement", "", "statement id")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("statement")
	return cmd
}

func newReconcileAutoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auto <reconciliation-id>",
		Short: "Auto-match unmatched statement lines against the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.reconciler.AutoMatch(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("matched %d, still unmatched %d\n", res.NewlyMatched, res.StillUnmatched)
			if res.Truncated {
				fmt.Println("pass was truncated by the candidate budget; run again to continue")
			}
			return nil
		},
	}
}

func newReconcileMatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "match <reconciliation-id> <statement-line-id> <ledger-transaction-id>",
		Short: "Manually match a statement line to a ledger transaction",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.reconciler.ManualMatch(commandContext(cmd), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Printf("match %s created\n", m.ID)
			return nil
		},
	}
}

func newReconcileUnmatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unmatch <reconciliation-id> <match-or-line-id>",
		Short: "Reverse a match, keeping its history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.reconciler.Unmatch(commandContext(cmd), args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("unmatched")
			return nil
		},
	}
}

func newReconcileCompleteCmd(a *app) *cobra.Command {
	var force bool
	var by string
	cmd := &cobra.Command{
		Use:   "complete <reconciliation-id>",
		Short: "Complete a balanced reconciliation (or force with a known discrepancy)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.reconciler.Complete(commandContext(cmd), args[0], force, by)
			if err != nil {
				return err
			}
			if rec.ForcedDifference != nil {
				fmt.Printf("completed with forced difference %s\n", rec.ForcedDifference)
				return nil
			}
			fmt.Println("completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "complete despite a balance discrepancy")
	cmd.Flags().StringVar(&by, "by", "", "who completed the reconciliation")
	return cmd
}

func newReconcileSuggestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <reconciliation-id>",
		Short: "Show ranked match suggestions without persisting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suggestions, err := a.reconciler.Suggestions(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			if len(suggestions) == 0 {
				fmt.Println("no suggestions")
				return nil
			}
			for _, s := range suggestions {
				fmt.Printf("%.2f  line %s -> ledger %s (%dd apart)\n",
					s.Confidence, s.StatementLineID, s.LedgerTransactionID, s.DaysApart)
			}
			return nil
		},
	}
}

func newReconcileSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <reconciliation-id>",
		Short: "Show counts, balance difference and completion eligibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.reconciler.Summarize(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("lines: %d total, %d matched, %d unmatched\n", s.TotalLines, s.MatchedLines, s.UnmatchedLines)
			fmt.Printf("balance difference: %s\n", s.BalanceDifference)
			fmt.Printf("can complete: %t\n", s.CanComplete)
			return nil
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a sample statement and matching ledger rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := testdata.Build(account, time.Now().UTC())
			if err := testdata.Seed(commandContext(cmd), testdata.Repos{Statements: a.statements, Ledger: a.ledger}, f); err != nil {
				return err
			}
			fmt.Printf("seeded account %s, statement %s (%d lines, %d ledger rows)\n",
				f.BankAccountID, f.Statement.ID, len(f.Lines), len(f.Ledger))
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "bank account id (defaults to a deterministic sample id)")
	return cmd
}
