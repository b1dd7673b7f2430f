package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus tracks whether a statement line is linked to a ledger transaction.
type MatchStatus string

const (
	StatusUnmatched MatchStatus = "unmatched"
	StatusMatched   MatchStatus = "matched"
	StatusIgnored   MatchStatus = "ignored"
)

// ReconciliationStatus is the lifecycle state of a reconciliation session.
type ReconciliationStatus string

const (
	ReconciliationInProgress ReconciliationStatus = "in_progress"
	ReconciliationCompleted  ReconciliationStatus = "completed"
)

// MatchType records how a match was made.
type MatchType string

const (
	MatchAuto   MatchType = "auto"
	MatchManual MatchType = "manual"
)

// BankStatement represents one statement import event.
type BankStatement struct {
	ID             string
	BankAccountID  string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	// BalanceDrift is opening + sum(lines) - closing, recorded at import.
	BalanceDrift decimal.Decimal
	ImportedAt   time.Time
}

// StatementLine represents one row parsed from an imported statement.
// Immutable after import except MatchStatus.
type StatementLine struct {
	ID                    string
	StatementID           string
	BankAccountID         string
	Seq                   int
	PostedDate            time.Time
	Amount                decimal.Decimal
	RawDescription        string
	NormalizedDescription string
	CheckNumber           *string
	BalanceAfter          *decimal.Decimal
	MatchStatus           MatchStatus
	CreatedAt             time.Time
}

// LedgerTransaction is a transaction the user recorded independently of any
// statement. Read-only to the reconciliation core apart from the match
// back-reference.
type LedgerTransaction struct {
	ID                string
	BankAccountID     string
	Date              time.Time
	Amount            decimal.Decimal
	Description       string
	ReconciledMatchID *string
	CreatedAt         time.Time
}

// Reconciliation is the aggregate root of one reconciliation session.
type Reconciliation struct {
	ID                 string
	BankAccountID      string
	StatementID        string
	ReconciliationDate time.Time
	OpeningBalance     decimal.Decimal
	ClosingBalance     decimal.Decimal
	Status             ReconciliationStatus
	// ForcedDifference holds the residual balance difference when the
	// session was completed with force, for audit.
	ForcedDifference *decimal.Decimal
	Version          int64
	CreatedAt        time.Time
	CompletedAt      *time.Time
	CompletedBy      *string
}

// ReconciliationMatch links one statement line to one ledger transaction.
// Unmatching sets UnmatchedAt; rows are never deleted.
type ReconciliationMatch struct {
	ID                  string
	ReconciliationID    string
	StatementLineID     string
	LedgerTransactionID string
	Confidence          float64
	MatchType           MatchType
	MatchedAt           time.Time
	UnmatchedAt         *time.Time
}
