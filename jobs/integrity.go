package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/ledgerline/ledgerline/internal/jobs"
)

// ErrLedgerDrift indicates at least one open period's posted lines do not
// balance. The ledger only writes balanced entries, so drift means corrupt
// data or an out-of-band write and is always worth a page.
var ErrLedgerDrift = errors.New("jobs: ledger drift detected")

// GLIntegrity scans every open period and asserts total posted debits
// equal total posted credits.
type GLIntegrity struct {
	db      *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewGLIntegrity constructs the scanner. Metrics may be nil.
func NewGLIntegrity(db *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrity {
	return &GLIntegrity{db: db, logger: logger, metrics: metrics}
}

// Scan checks each open period and returns ErrLedgerDrift naming every
// period out of balance. All periods are checked before reporting.
func (g *GLIntegrity) Scan(ctx context.Context) error {
	rows, err := g.db.Query(ctx, `SELECT p.id, p.name,
COALESCE(SUM(l.debit), 0)::text, COALESCE(SUM(l.credit), 0)::text
FROM periods p
LEFT JOIN journal_entries e ON e.period_id = p.id AND e.status IN ('POSTED','REVERSED')
LEFT JOIN journal_entry_lines l ON l.entry_id = e.id
WHERE p.status = 'OPEN'
GROUP BY p.id, p.name
ORDER BY p.id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var drifted []string
	for rows.Next() {
		var (
			id            int64
			name          string
			debit, credit string
		)
		if err := rows.Scan(&id, &name, &debit, &credit); err != nil {
			return err
		}
		d, err := decimal.NewFromString(debit)
		if err != nil {
			return err
		}
		c, err := decimal.NewFromString(credit)
		if err != nil {
			return err
		}
		if !d.Equal(c) {
			drifted = append(drifted, fmt.Sprintf("%s (period %d, debit %s, credit %s)", name, id, d, c))
			g.metrics.AddDrift(id, 1)
			g.logger.ErrorContext(ctx, "period out of balance",
				slog.Int64("period_id", id),
				slog.String("period", name),
				slog.String("debit", d.String()),
				slog.String("credit", c.String()))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(drifted) > 0 {
		return fmt.Errorf("%w: %v", ErrLedgerDrift, drifted)
	}
	return nil
}
