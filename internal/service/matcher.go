package service

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/jask/bankrec/internal/database/repository"
)

// MatcherConfig holds the tunable knobs of the matching algorithm. The
// defaults are deliberate starting points, not contracts.
type MatcherConfig struct {
	// WindowDays is N in the date score max(0, 1-|daysApart|/N) and the
	// half-width of the ledger candidate window around the statement period.
	WindowDays int
	// AmountTolerance is the maximum absolute amount difference for a pair
	// to qualify at all. Zero means exact equality.
	AmountTolerance decimal.Decimal
	// AutoAcceptThreshold and SuggestThreshold split scored pairs into
	// accepted matches, suggestions, and discards.
	AutoAcceptThreshold float64
	SuggestThreshold    float64
	// MaxCandidates caps the number of scored pairs. When the cap or the
	// context deadline is hit, the outcome is marked truncated and carries
	// whatever was accepted so far.
	MaxCandidates int
	// MaxSuggestionsPerLine limits how many alternatives are kept per line.
	MaxSuggestionsPerLine int
}

// DefaultMatcherConfig returns the stock tuning.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		WindowDays:            5,
		AmountTolerance:       decimal.Zero,
		AutoAcceptThreshold:   0.9,
		SuggestThreshold:      0.5,
		MaxCandidates:         50000,
		MaxSuggestionsPerLine: 3,
	}
}

const (
	amountBaseWeight = 0.4
	dateWeight       = 0.3
	descWeight       = 0.3
)

// CandidateMatch is one scored statement-line/ledger-transaction pairing.
type CandidateMatch struct {
	StatementLineID     string
	LedgerTransactionID string
	Confidence          float64
	DaysApart           int
}

// MatchOutcome separates pairs the matcher would persist automatically from
// pairs that need a human decision.
type MatchOutcome struct {
	Accepted    []CandidateMatch
	Suggestions []CandidateMatch
	// Truncated is set when the candidate budget or deadline cut scoring
	// short. Accepted pairs computed before the cut are still valid.
	Truncated bool
}

// MatchLines scores every qualifying pair of unmatched statement lines and
// candidate ledger transactions and resolves conflicts so each side appears
// in at most one accepted pair. Pure: no side effects, empty input yields an
// empty outcome.
func MatchLines(ctx context.Context, lines []repository.StatementLine, txs []repository.LedgerTransaction, cfg MatcherConfig) MatchOutcome {
	var out MatchOutcome
	if len(lines) == 0 || len(txs) == 0 {
		return out
	}

	type pair struct {
		line int
		tx   int
		conf float64
		gap  int
	}
	var pool []pair

	scored := 0
scoring:
	for i := range lines {
		if ctx.Err() != nil {
			out.Truncated = true
			break
		}
		for j := range txs {
			if !amountQualifies(lines[i].Amount, txs[j].Amount, cfg.AmountTolerance) {
				continue
			}
			scored++
			if cfg.MaxCandidates > 0 && scored > cfg.MaxCandidates {
				out.Truncated = true
				break scoring
			}
			gap := daysApart(lines[i].PostedDate, txs[j].Date)
			conf := amountBaseWeight +
				dateWeight*dateScore(gap, cfg.WindowDays) +
				descWeight*descriptionScore(lines[i].NormalizedDescription, NormalizeDescription(txs[j].Description))
			if conf > 1 {
				conf = 1
			}
			if conf < cfg.SuggestThreshold {
				continue
			}
			pool = append(pool, pair{line: i, tx: j, conf: conf, gap: gap})
		}
	}

	// Highest confidence first, closer date breaking ties; seq keeps the
	// order deterministic for equal pairs.
	sort.SliceStable(pool, func(a, b int) bool {
		if pool[a].conf != pool[b].conf {
			return pool[a].conf > pool[b].conf
		}
		if pool[a].gap != pool[b].gap {
			return pool[a].gap < pool[b].gap
		}
		return lines[pool[a].line].Seq < lines[pool[b].line].Seq
	})

	usedLine := make(map[int]bool, len(lines))
	usedTx := make(map[int]bool, len(txs))
	for _, p := range pool {
		if p.conf < cfg.AutoAcceptThreshold || usedLine[p.line] || usedTx[p.tx] {
			continue
		}
		usedLine[p.line] = true
		usedTx[p.tx] = true
		out.Accepted = append(out.Accepted, CandidateMatch{
			StatementLineID:     lines[p.line].ID,
			LedgerTransactionID: txs[p.tx].ID,
			Confidence:          p.conf,
			DaysApart:           p.gap,
		})
	}

	perLine := make(map[int]int, len(lines))
	for _, p := range pool {
		if usedLine[p.line] || usedTx[p.tx] {
			continue
		}
		if cfg.MaxSuggestionsPerLine > 0 && perLine[p.line] >= cfg.MaxSuggestionsPerLine {
			continue
		}
		perLine[p.line]++
		out.Suggestions = append(out.Suggestions, CandidateMatch{
			StatementLineID:     lines[p.line].ID,
			LedgerTransactionID: txs[p.tx].ID,
			Confidence:          p.conf,
			DaysApart:           p.gap,
		})
	}
	return out
}

// amountQualifies is the hard gate: a pair outside tolerance is never a
// candidate, regardless of how well everything else lines up.
func amountQualifies(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

func dateScore(gap, windowDays int) float64 {
	if windowDays <= 0 {
		windowDays = 1
	}
	s := 1 - float64(gap)/float64(windowDays)
	if s < 0 {
		return 0
	}
	return s
}

// descriptionScore blends token-set overlap with a levenshtein ratio, taking
// whichever signal is stronger. Both inputs must already be normalized.
func descriptionScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	j := jaccard(strings.Fields(a), strings.Fields(b))
	l := levenshteinRatio(a, b)
	if l > j {
		return l
	}
	return j
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func levenshteinRatio(a, b string) float64 {
	maxlen := len(a)
	if len(b) > maxlen {
		maxlen = len(b)
	}
	if maxlen == 0 {
		return 0
	}
	r := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxlen)
	if r < 0 {
		return 0
	}
	return r
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// NormalizeDescription lower-cases and strips punctuation, collapsing runs of
// separators to single spaces. Statement lines store this at import time;
// ledger descriptions are normalized on the fly.
func NormalizeDescription(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			sb.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}
