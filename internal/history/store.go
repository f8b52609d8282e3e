package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// DefaultBucket is the raw history bucket for numeric kinds.
const DefaultBucket = 5 * time.Minute

// dateLayout is how history and trend dates are stored. It is fixed width
// so text ordering matches time ordering.
const dateLayout = "2006-01-02 15:04:05.000"

// Sample is one history row.
type Sample struct {
	At      time.Time
	Value   any
	Samples int
}

// CounterTrend is one hourly counter aggregate.
type CounterTrend struct {
	At   time.Time
	Last int64
	Diff int64
}

// LevelTrend is one hourly level aggregate.
type LevelTrend struct {
	At      time.Time
	Min     float64
	Max     float64
	Average float64
}

// SQLiteStore implements device.History and the trend operations on the
// per-kind history and trend tables.
//
// Numeric kinds merge every sample landing in the same bucket into one row
// holding their mean and count. Switch and text kinds append a row per
// value.
type SQLiteStore struct {
	db     *sql.DB
	bucket time.Duration
}

// NewSQLiteStore creates a store. A non-positive bucket uses DefaultBucket.
//
// Parameters:
//   - db: Open SQLite connection with the history migrations applied
//   - bucket: Raw history bucket width for numeric kinds
//
// Returns:
//   - *SQLiteStore: Store ready for use
func NewSQLiteStore(db *sql.DB, bucket time.Duration) *SQLiteStore {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	return &SQLiteStore{db: db, bucket: bucket}
}

// Bucket returns the raw bucket width.
func (s *SQLiteStore) Bucket() time.Duration {
	return s.bucket
}

// AppendOrMerge stores value for the device at the given time.
//
// For numeric kinds the value is folded into the bucket containing at
// inside one transaction, so concurrent writers never lose a sample.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Device the value belongs to
//   - kind: The device's value kind
//   - value: Value in the kind's native type
//   - at: Time of the change
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *SQLiteStore) AppendOrMerge(ctx context.Context, deviceID int64, kind device.Kind, value any, at time.Time) error {
	table, err := historyTable(kind.Name())
	if err != nil {
		return err
	}

	if !kind.Numeric() {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO "+table+" (device_id, value, date) VALUES (?, ?, ?)",
			deviceID, kind.Format(value), formatDate(at),
		)
		if err != nil {
			return fmt.Errorf("inserting %s history: %w", kind.Name(), err)
		}
		return nil
	}

	date := formatDate(at.UTC().Truncate(s.bucket))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	var current device.Bucket
	err = tx.QueryRowContext(ctx,
		"SELECT value, samples FROM "+table+" WHERE device_id = ? AND date = ?",
		deviceID, date,
	).Scan(&current.Value, &current.Samples)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading %s history bucket: %w", kind.Name(), err)
	}

	merged, _ := kind.MergeIntoBucket(current, value)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+table+` (device_id, value, date, samples) VALUES (?, ?, ?, ?)
		 ON CONFLICT (device_id, date) DO UPDATE SET value = excluded.value, samples = excluded.samples`,
		deviceID, merged.Value, date, merged.Samples,
	)
	if err != nil {
		return fmt.Errorf("writing %s history bucket: %w", kind.Name(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history: %w", err)
	}
	return nil
}

// ReadLatest returns the most recent history value for the device.
//
// Returns:
//   - any: Value converted to the kind's native type
//   - time.Time: Row date (bucket start for numeric kinds)
//   - bool: false when the device has no history
//   - error: nil on success, otherwise the underlying query error
func (s *SQLiteStore) ReadLatest(ctx context.Context, deviceID int64, kind device.Kind) (any, time.Time, bool, error) {
	table, err := historyTable(kind.Name())
	if err != nil {
		return nil, time.Time{}, false, err
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT value, date FROM "+table+" WHERE device_id = ? ORDER BY date DESC, rowid DESC LIMIT 1",
		deviceID,
	)
	sample, err := scanSample(row, kind, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return sample.Value, sample.At, true, nil
}

// Since returns the device's history rows at or after since, oldest first.
func (s *SQLiteStore) Since(ctx context.Context, deviceID int64, kind device.Kind, since time.Time) ([]Sample, error) {
	table, err := historyTable(kind.Name())
	if err != nil {
		return nil, err
	}

	columns := "value, date"
	if kind.Numeric() {
		columns = "value, date, samples"
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+columns+" FROM "+table+" WHERE device_id = ? AND date >= ? ORDER BY date ASC, rowid ASC",
		deviceID, formatDate(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s history: %w", kind.Name(), err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		sample, err := scanSample(rows, kind, kind.Numeric())
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s history: %w", kind.Name(), err)
	}
	return samples, nil
}

// PurgeHistoryBefore deletes the device's history rows older than cutoff.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (s *SQLiteStore) PurgeHistoryBefore(ctx context.Context, deviceID int64, kind device.Kind, cutoff time.Time) (int64, error) {
	table, err := historyTable(kind.Name())
	if err != nil {
		return 0, err
	}
	return s.deleteBefore(ctx, table, deviceID, cutoff)
}

// PutCounterTrend inserts or replaces the trend row for t.At.
func (s *SQLiteStore) PutCounterTrend(ctx context.Context, deviceID int64, t CounterTrend) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_counter_trends (device_id, last, diff, date) VALUES (?, ?, ?, ?)
		 ON CONFLICT (device_id, date) DO UPDATE SET last = excluded.last, diff = excluded.diff`,
		deviceID, t.Last, t.Diff, formatDate(t.At),
	)
	if err != nil {
		return fmt.Errorf("writing counter trend: %w", err)
	}
	return nil
}

// PutLevelTrend inserts or replaces the trend row for t.At.
func (s *SQLiteStore) PutLevelTrend(ctx context.Context, deviceID int64, t LevelTrend) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_level_trends (device_id, min, max, average, date) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (device_id, date) DO UPDATE SET min = excluded.min, max = excluded.max, average = excluded.average`,
		deviceID, t.Min, t.Max, t.Average, formatDate(t.At),
	)
	if err != nil {
		return fmt.Errorf("writing level trend: %w", err)
	}
	return nil
}

// CounterTrendsSince returns counter trend rows at or after since, oldest
// first.
func (s *SQLiteStore) CounterTrendsSince(ctx context.Context, deviceID int64, since time.Time) ([]CounterTrend, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT last, diff, date FROM device_counter_trends WHERE device_id = ? AND date >= ? ORDER BY date ASC",
		deviceID, formatDate(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying counter trends: %w", err)
	}
	defer rows.Close()

	var trends []CounterTrend
	for rows.Next() {
		var t CounterTrend
		var date string
		if err := rows.Scan(&t.Last, &t.Diff, &date); err != nil {
			return nil, fmt.Errorf("scanning counter trend: %w", err)
		}
		if t.At, err = parseDate(date); err != nil {
			return nil, err
		}
		trends = append(trends, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating counter trends: %w", err)
	}
	return trends, nil
}

// LastCounterTrendBefore returns the newest counter trend row older than
// before.
func (s *SQLiteStore) LastCounterTrendBefore(ctx context.Context, deviceID int64, before time.Time) (CounterTrend, bool, error) {
	var t CounterTrend
	var date string
	err := s.db.QueryRowContext(ctx,
		"SELECT last, diff, date FROM device_counter_trends WHERE device_id = ? AND date < ? ORDER BY date DESC LIMIT 1",
		deviceID, formatDate(before),
	).Scan(&t.Last, &t.Diff, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return CounterTrend{}, false, nil
	}
	if err != nil {
		return CounterTrend{}, false, fmt.Errorf("querying counter trend: %w", err)
	}
	if t.At, err = parseDate(date); err != nil {
		return CounterTrend{}, false, err
	}
	return t, true, nil
}

// LevelTrendsSince returns level trend rows at or after since, oldest first.
func (s *SQLiteStore) LevelTrendsSince(ctx context.Context, deviceID int64, since time.Time) ([]LevelTrend, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT min, max, average, date FROM device_level_trends WHERE device_id = ? AND date >= ? ORDER BY date ASC",
		deviceID, formatDate(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying level trends: %w", err)
	}
	defer rows.Close()

	var trends []LevelTrend
	for rows.Next() {
		var t LevelTrend
		var date string
		if err := rows.Scan(&t.Min, &t.Max, &t.Average, &date); err != nil {
			return nil, fmt.Errorf("scanning level trend: %w", err)
		}
		if t.At, err = parseDate(date); err != nil {
			return nil, err
		}
		trends = append(trends, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating level trends: %w", err)
	}
	return trends, nil
}

// PurgeTrendsBefore deletes the device's trend rows older than cutoff.
// Kinds without trends return ErrNoTrends.
func (s *SQLiteStore) PurgeTrendsBefore(ctx context.Context, deviceID int64, kind device.Kind, cutoff time.Time) (int64, error) {
	table, err := trendTable(kind.Name())
	if err != nil {
		return 0, err
	}
	return s.deleteBefore(ctx, table, deviceID, cutoff)
}

func (s *SQLiteStore) deleteBefore(ctx context.Context, table string, deviceID int64, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE device_id = ? AND date < ?",
		deviceID, formatDate(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSample reads a (value, date[, samples]) row and converts the value to
// the kind's native type.
func scanSample(row scanner, kind device.Kind, withSamples bool) (Sample, error) {
	var date string
	sample := Sample{Samples: 1}

	var raw any
	if kind.Numeric() {
		var f float64
		dest := []any{&f, &date}
		if withSamples {
			dest = append(dest, &sample.Samples)
		}
		if err := row.Scan(dest...); err != nil {
			return Sample{}, err
		}
		raw = f
	} else {
		var s string
		if err := row.Scan(&s, &date); err != nil {
			return Sample{}, err
		}
		raw = s
	}

	value, err := kind.Convert(raw)
	if err != nil {
		return Sample{}, fmt.Errorf("converting stored %s value: %w", kind.Name(), err)
	}
	at, err := parseDate(date)
	if err != nil {
		return Sample{}, err
	}
	sample.Value = value
	sample.At = at
	return sample, nil
}

func historyTable(kind device.KindName) (string, error) {
	switch kind {
	case device.KindCounter:
		return "device_counter_history", nil
	case device.KindLevel:
		return "device_level_history", nil
	case device.KindSwitch:
		return "device_switch_history", nil
	case device.KindText:
		return "device_text_history", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

func trendTable(kind device.KindName) (string, error) {
	switch kind {
	case device.KindCounter:
		return "device_counter_trends", nil
	case device.KindLevel:
		return "device_level_trends", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrNoTrends, kind)
	}
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing history date %q: %w", value, err)
	}
	return t, nil
}
