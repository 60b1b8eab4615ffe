package state

import (
	"fmt"
	"time"
)

// LedgerTotals is aggregate spend over a window.
type LedgerTotals struct {
	Tokens int64
	Cost   float64
}

// RecordSpend appends a spend entry to the budget ledger. The ledger is
// append-only; totals are always derived by summation so a crash can never
// leave a stale running counter.
func (db *DB) RecordSpend(delegate string, tokens int64, cost float64) error {
	_, err := db.Exec(`
		INSERT INTO budget_ledger (delegate, tokens, cost, recorded_at)
		VALUES (?, ?, ?, ?)
	`, delegate, tokens, cost, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record spend: %w", err)
	}
	return nil
}

// SpendSince sums one delegate's ledger entries recorded at or after the
// given time.
func (db *DB) SpendSince(delegate string, since time.Time) (*LedgerTotals, error) {
	row := db.QueryRow(`
		SELECT COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0)
		FROM budget_ledger WHERE delegate = ? AND recorded_at >= ?
	`, delegate, formatTime(since))

	var totals LedgerTotals
	if err := row.Scan(&totals.Tokens, &totals.Cost); err != nil {
		return nil, fmt.Errorf("spend since: %w", err)
	}
	return &totals, nil
}

// GlobalSpendSince sums all ledger entries recorded at or after the given
// time, across every delegate.
func (db *DB) GlobalSpendSince(since time.Time) (*LedgerTotals, error) {
	row := db.QueryRow(`
		SELECT COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0)
		FROM budget_ledger WHERE recorded_at >= ?
	`, formatTime(since))

	var totals LedgerTotals
	if err := row.Scan(&totals.Tokens, &totals.Cost); err != nil {
		return nil, fmt.Errorf("global spend since: %w", err)
	}
	return &totals, nil
}

// SpendByDelegate returns per-delegate totals since the given time.
func (db *DB) SpendByDelegate(since time.Time) (map[string]LedgerTotals, error) {
	rows, err := db.Query(`
		SELECT delegate, COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0)
		FROM budget_ledger WHERE recorded_at >= ?
		GROUP BY delegate
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("spend by delegate: %w", err)
	}
	defer rows.Close()

	out := make(map[string]LedgerTotals)
	for rows.Next() {
		var delegate string
		var totals LedgerTotals
		if err := rows.Scan(&delegate, &totals.Tokens, &totals.Cost); err != nil {
			return nil, fmt.Errorf("scan spend: %w", err)
		}
		out[delegate] = totals
	}
	return out, nil
}

// PruneLedger deletes ledger entries recorded before cutoff. Returns the
// number of entries removed.
func (db *DB) PruneLedger(cutoff time.Time) (int, error) {
	res, err := db.Exec(`DELETE FROM budget_ledger WHERE recorded_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return int(n), nil
}
