package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Repository defines the interface for device catalogue persistence.
// It stores only device identity so ids stay stable across restarts;
// values live in history.
type Repository interface {
	// GetByReference retrieves the record for an adapter's reference.
	// Returns ErrDeviceNotFound if it was never declared.
	GetByReference(ctx context.Context, adapterID, reference string) (*Record, error)

	// GetByID retrieves a record by its numeric id.
	// Returns ErrDeviceNotFound if the id does not exist.
	GetByID(ctx context.Context, id int64) (*Record, error)

	// List retrieves every record ordered by id.
	List(ctx context.Context) ([]Record, error)

	// Create inserts a record and assigns its ID.
	// Returns ErrDeviceExists if the adapter already declared the reference.
	Create(ctx context.Context, rec *Record) error

	// UpdateLabel changes a record's label.
	UpdateLabel(ctx context.Context, id int64, label string) error

	// Delete removes a record by id.
	// Returns ErrDeviceNotFound if the id does not exist.
	Delete(ctx context.Context, id int64) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const recordColumns = `id, adapter_id, reference, label, kind, created_at`

// GetByReference retrieves the record for an adapter's reference.
func (r *SQLiteRepository) GetByReference(ctx context.Context, adapterID, reference string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM devices WHERE adapter_id = ? AND reference = ?`,
		adapterID, reference)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by reference: %w", err)
	}
	return rec, nil
}

// GetByID retrieves a record by its numeric id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM devices WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return rec, nil
}

// List retrieves every record ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return records, nil
}

// Create inserts a record and assigns its ID.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (adapter_id, reference, label, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.AdapterID,
		rec.Reference,
		rec.Label,
		string(rec.Kind),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	rec.ID = id
	return nil
}

// UpdateLabel changes a record's label.
func (r *SQLiteRepository) UpdateLabel(ctx context.Context, id int64, label string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE devices SET label = ? WHERE id = ?", label, id)
	if err != nil {
		return fmt.Errorf("updating device label: %w", err)
	}
	return requireAffected(result)
}

// Delete removes a record by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireAffected(result)
}

// requireAffected maps zero affected rows to ErrDeviceNotFound.
func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row or rows result into a Record.
func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var kind, createdAt string
	if err := scanner.Scan(&rec.ID, &rec.AdapterID, &rec.Reference, &rec.Label, &kind, &createdAt); err != nil {
		return nil, err
	}
	rec.Kind = KindName(kind)

	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.CreatedAt = ts
	return &rec, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

// MemoryRepository is an in-process Repository for tests and for running
// without a database.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[int64]Record
	nextID  int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[int64]Record)}
}

// GetByReference implements Repository.
func (m *MemoryRepository) GetByReference(_ context.Context, adapterID, reference string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.AdapterID == adapterID && rec.Reference == reference {
			cpy := rec
			return &cpy, nil
		}
	}
	return nil, ErrDeviceNotFound
}

// GetByID implements Repository.
func (m *MemoryRepository) GetByID(_ context.Context, id int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return &rec, nil
}

// List implements Repository.
func (m *MemoryRepository) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]Record, 0, len(m.records))
	for id := int64(1); id <= m.nextID; id++ {
		if rec, ok := m.records[id]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Create implements Repository.
func (m *MemoryRepository) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.AdapterID == rec.AdapterID && existing.Reference == rec.Reference {
			return ErrDeviceExists
		}
	}
	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.ID] = *rec
	return nil
}

// UpdateLabel implements Repository.
func (m *MemoryRepository) UpdateLabel(_ context.Context, id int64, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrDeviceNotFound
	}
	rec.Label = label
	m.records[id] = rec
	return nil
}

// Delete implements Repository.
func (m *MemoryRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.records, id)
	return nil
}
