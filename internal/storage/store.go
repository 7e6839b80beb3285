// Package storage implements the Storage Engine: the single writer of
// durable pipeline state. Schema migrations and the relational
// driver (github.com/lib/pq + github.com/golang-migrate/migrate/v4) are
// this pipeline's relational-storage dependencies; the surrounding Store
// API (constructor taking a DSN, context-first methods,
// fmt.Errorf("...: %w", err) wrapping) follows this codebase's general
// database/sql idiom.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// Store is the Storage Engine. It owns the single *sql.DB connection pool
// and enforces the schema-version contract before serving any operation.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and applies pending migrations up to
// BinarySchemaVersion, refusing to proceed if the database's applied
// version is newer than this binary knows.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateSchema(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("build migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema at version %d is dirty, refusing to proceed", version)
	}
	if err == nil && version > BinarySchemaVersion {
		return fmt.Errorf("store schema version %d is newer than this binary's %d", version, BinarySchemaVersion)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// UpsertOutcome classifies what BulkUpsert did with one bar.
type UpsertOutcome string

const (
	OutcomeInserted UpsertOutcome = "inserted"
	OutcomeUpdated  UpsertOutcome = "updated"
	OutcomeSkipped  UpsertOutcome = "skipped"
)

// BulkUpsert writes bars atomically in one transaction with conflict
// policy overwrite-if-higher-quality-score: a conflicting
// row with a lower-or-equal quality_score is a no-op (OutcomeSkipped); one
// with a strictly higher score overwrites and bumps revision
// (OutcomeUpdated). A crash mid-batch leaves the store in its pre-batch
// state because the whole write is one transaction.
func (s *Store) BulkUpsert(ctx context.Context, bars []model.Bar) (map[UpsertOutcome]int, error) {
	counts := map[UpsertOutcome]int{}
	if len(bars) == 0 {
		return counts, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin bulk_upsert transaction: %w", err)
	}
	defer tx.Rollback()

	const cols = 13
	var sb strings.Builder
	sb.WriteString(`INSERT INTO bars (symbol, timeframe, timestamp, open, high, low, close, volume, source, ingested_at, quality_score, is_regular_hours, revision) VALUES `)
	args := make([]any, 0, len(bars)*cols)
	for i, b := range bars {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11, base+12, base+13)
		ingestedAt := b.IngestedAt
		if ingestedAt.IsZero() {
			ingestedAt = time.Now().UTC()
		}
		args = append(args, b.Symbol, string(b.Timeframe), b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume,
			b.Source, ingestedAt, b.QualityScore, b.IsRegularHours, 0)
	}
	sb.WriteString(` ON CONFLICT (symbol, timeframe, timestamp) DO UPDATE SET
		open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
		volume = EXCLUDED.volume, source = EXCLUDED.source, ingested_at = EXCLUDED.ingested_at,
		quality_score = EXCLUDED.quality_score, is_regular_hours = EXCLUDED.is_regular_hours,
		revision = bars.revision + 1
	WHERE EXCLUDED.quality_score > bars.quality_score
	RETURNING (xmax = 0) AS inserted`)

	rows, err := tx.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("bulk_upsert: %w", err)
	}
	written := 0
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan bulk_upsert result: %w", err)
		}
		if inserted {
			counts[OutcomeInserted]++
		} else {
			counts[OutcomeUpdated]++
		}
		written++
	}
	rows.Close()
	counts[OutcomeSkipped] = len(bars) - written

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bulk_upsert: %w", err)
	}
	return counts, nil
}

// Filters narrows Query's result set.
type Filters struct {
	MinQualityScore  int
	RegularHoursOnly bool
}

// Query returns stored bars for (symbol, timeframe) in [from, to), snapshot
// consistent for the duration of the call.
func (s *Store) Query(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time, filters Filters) ([]model.Bar, error) {
	q := `SELECT symbol, timeframe, timestamp, open, high, low, close, volume, source, ingested_at, quality_score, is_regular_hours, revision
	      FROM bars WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp < $4 AND quality_score >= $5`
	args := []any{symbol, string(tf), from.UTC(), to.UTC(), filters.MinQualityScore}
	if filters.RegularHoursOnly {
		q += " AND is_regular_hours = true"
	}
	q += " ORDER BY timestamp ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		var b model.Bar
		var timeframe string
		if err := rows.Scan(&b.Symbol, &timeframe, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
			&b.Source, &b.IngestedAt, &b.QualityScore, &b.IsRegularHours, &b.Revision); err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		b.Timeframe = model.Timeframe(timeframe)
		out = append(out, b)
	}
	return out, rows.Err()
}

// MissingRange is one expected-but-absent grid point, or one stored but
// MISALIGNED (off-grid) timestamp reported separately
type MissingRange struct {
	Timestamp  time.Time
	Misaligned bool
}

// DetectMissing compares the timeframe's canonical REGULAR-session grid
// over [from, to) against what's stored and returns every expected
// timestamp that's absent. Exact for the canonical grid; any stored row
// that isn't on-grid is reported separately as MISALIGNED (it should never
// happen past the validator, but detection doesn't assume that).
func (s *Store) DetectMissing(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time, calendar model.SessionCalendar) ([]MissingRange, error) {
	existing := make(map[int64]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp FROM bars WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp < $4`,
		symbol, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("detect_missing query: %w", err)
	}
	var misaligned []MissingRange
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan timestamp: %w", err)
		}
		if !tf.OnGrid(ts) {
			misaligned = append(misaligned, MissingRange{Timestamp: ts, Misaligned: true})
			continue
		}
		existing[ts.UnixNano()] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []MissingRange
	for _, ts := range expectedGrid(tf, from, to, calendar) {
		if !existing[ts.UnixNano()] {
			out = append(out, MissingRange{Timestamp: ts})
		}
	}
	return append(out, misaligned...), nil
}

// expectedGrid enumerates the timeframe's canonical REGULAR-session grid
// points in [from, to), skipping weekends. Pulled out of DetectMissing so
// the grid-generation logic is testable without a database.
func expectedGrid(tf model.Timeframe, from, to time.Time, calendar model.SessionCalendar) []time.Time {
	var out []time.Time
	step := tf.Duration()
	start := tf.AlignedStart(from)
	if start.Before(from) {
		start = start.Add(step)
	}
	for ts := start; ts.Before(to); ts = ts.Add(step) {
		if ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
			continue
		}
		if calendar.Classify(ts) != model.SessionRegular {
			continue
		}
		out = append(out, ts)
	}
	return out
}

// QualityReport aggregates stored bars' quality scores over [from, to) for
// (symbol, timeframe) into the counts-by-code / counts-by-severity shape
// the validator's per-bar reports also use. Storage only tracks the
// persisted score here; code/severity detail lives in the run report the
// Validator already produced upstream.
func (s *Store) QualityReport(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) (*model.AggregateReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT count(*), count(*) FILTER (WHERE quality_score >= $5), avg(quality_score)
		FROM bars WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp < $4`,
		symbol, string(tf), from.UTC(), to.UTC(), model.DefaultAcceptanceThreshold)

	agg := model.NewAggregateReport()
	var total, accepted int
	var mean sql.NullFloat64
	if err := row.Scan(&total, &accepted, &mean); err != nil {
		return nil, fmt.Errorf("quality_report: %w", err)
	}
	agg.TotalBars = total
	agg.AcceptedCount = accepted
	agg.RejectedCount = total - accepted
	if mean.Valid {
		agg.ScoreMean = mean.Float64
	}
	return agg, nil
}

// QueryLabels returns every labeled entry bar for symbol across all
// timeframes whose entry timestamp falls in [from, to), backing
// get_labels(symbol, from, to).
func (s *Store) QueryLabels(ctx context.Context, symbol string, from, to time.Time) ([]model.Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timeframe, timestamp, label_entry_price, label_stop_price, label_take_price, label_shares,
		       label_exit_symbol, label_exit_timeframe, label_exit_timestamp, label_exit_price,
		       label_exit_reason, label_bars_to_exit, label_pnl, label_outcome
		FROM bars
		WHERE symbol = $1 AND timestamp >= $2 AND timestamp < $3 AND label_exit_reason IS NOT NULL
		ORDER BY timestamp ASC`, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query_labels: %w", err)
	}
	defer rows.Close()

	var out []model.Label
	for rows.Next() {
		var l model.Label
		var entryTF, exitTF, exitReason, outcome string
		l.EntryBarKey.Symbol = symbol
		if err := rows.Scan(&entryTF, &l.EntryBarKey.Timestamp, &l.EntryPrice, &l.StopPrice, &l.TakePrice, &l.Shares,
			&l.ExitBarKey.Symbol, &exitTF, &l.ExitBarKey.Timestamp, &l.ExitPrice,
			&exitReason, &l.BarsToExit, &l.PnL, &outcome); err != nil {
			return nil, fmt.Errorf("scan label row: %w", err)
		}
		l.EntryBarKey.Timeframe = model.Timeframe(entryTF)
		l.ExitBarKey.Timeframe = model.Timeframe(exitTF)
		l.ExitReason = model.ExitReason(exitReason)
		l.Outcome = model.Outcome(outcome)
		l.EntryTime = l.EntryBarKey.Timestamp
		l.ExitTime = l.ExitBarKey.Timestamp
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkLabels idempotently writes simulation labels onto their entry bars'
// rows. Writing the same label twice leaves the row unchanged, the same
// idempotency bulk_upsert gives bars extended to labels.
func (s *Store) MarkLabels(ctx context.Context, labels []model.Label) error {
	if len(labels) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark_labels transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE bars SET
			label_entry_price = $1, label_stop_price = $2, label_take_price = $3, label_shares = $4,
			label_exit_symbol = $5, label_exit_timeframe = $6, label_exit_timestamp = $7, label_exit_price = $8,
			label_exit_reason = $9, label_bars_to_exit = $10, label_pnl = $11, label_outcome = $12
		WHERE symbol = $13 AND timeframe = $14 AND timestamp = $15`)
	if err != nil {
		return fmt.Errorf("prepare mark_labels: %w", err)
	}
	defer stmt.Close()

	for _, l := range labels {
		_, err := stmt.ExecContext(ctx,
			l.EntryPrice, l.StopPrice, l.TakePrice, l.Shares,
			l.ExitBarKey.Symbol, string(l.ExitBarKey.Timeframe), l.ExitBarKey.Timestamp.UTC(), l.ExitPrice,
			string(l.ExitReason), l.BarsToExit, l.PnL, string(l.Outcome),
			l.EntryBarKey.Symbol, string(l.EntryBarKey.Timeframe), l.EntryBarKey.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("mark_labels exec: %w", err)
		}
	}
	return tx.Commit()
}

// indicatorColumns maps each family to the wide table's one column for it
// (see bands_atr.go / stochastic.go for why BollingerBands and Stochastic
// each collapse to one reported value).
var indicatorColumns = map[model.IndicatorFamily]string{
	model.FamilySMA:            "ind_sma",
	model.FamilyEMA:            "ind_ema",
	model.FamilyRSI:            "ind_rsi",
	model.FamilyMACD:           "ind_macd",
	model.FamilyBollingerBands: "ind_bb",
	model.FamilyATR:            "ind_atr",
	model.FamilyStochastic:     "ind_stoch",
	model.FamilyVWAP:           "ind_vwap",
	model.FamilyOBV:            "ind_obv",
	model.FamilyADX:            "ind_adx",
}

// MarkIndicators idempotently writes one family's computed values onto
// their bars. Values with Valid == false (still warming up) are skipped
// rather than written as a misleading zero.
func (s *Store) MarkIndicators(ctx context.Context, values []model.IndicatorValue) error {
	if len(values) == 0 {
		return nil
	}
	col, ok := indicatorColumns[values[0].Family]
	if !ok {
		return fmt.Errorf("mark_indicators: unknown family %q", values[0].Family)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark_indicators transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`UPDATE bars SET %s = $1 WHERE symbol = $2 AND timeframe = $3 AND timestamp = $4`, col))
	if err != nil {
		return fmt.Errorf("prepare mark_indicators: %w", err)
	}
	defer stmt.Close()

	for _, v := range values {
		if !v.Valid {
			continue
		}
		if _, err := stmt.ExecContext(ctx, v.Value, v.BarKey.Symbol, string(v.BarKey.Timeframe), v.BarKey.Timestamp.UTC()); err != nil {
			return fmt.Errorf("mark_indicators exec: %w", err)
		}
	}
	return tx.Commit()
}
