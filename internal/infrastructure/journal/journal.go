package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

// File permissions for the journal.
const (
	dirPermissions  = 0750
	filePermissions = 0640
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("journal: closed")

// Logger defines the logging interface used by the Journal.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Options configures a Journal.
type Options struct {
	// Clock stamps task entries. Defaults to the real clock.
	Clock clockwork.Clock
	// Logger reports entries that could not be written.
	Logger Logger
}

// Journal appends entries to a CBOR file.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Journal struct {
	session string
	clock   clockwork.Clock
	logger  Logger

	mu     sync.Mutex
	file   *os.File
	enc    *cbor.Encoder
	closed bool
}

// Open opens (or creates) the journal at path for appending and starts a
// new session.
func Open(path string, opts Options) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Journal{
		session: uuid.NewString(),
		clock:   opts.Clock,
		logger:  opts.Logger,
		file:    f,
		enc:     newEncoder(f),
	}, nil
}

// Session returns the ID stamped on every entry written by this Journal.
func (j *Journal) Session() string {
	return j.session
}

// Record appends e, filling in the session and, when unset, the time.
func (j *Journal) Record(e Entry) error {
	e.Session = j.session
	if e.At.IsZero() {
		e.At = j.clock.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if err := j.enc.Encode(e); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	return nil
}

// RecordDiagnostic implements device.Diagnostics.
func (j *Journal) RecordDiagnostic(_ context.Context, d device.Diagnostic) {
	e := Entry{
		At:        d.At,
		Category:  CategoryUpdate,
		DeviceID:  d.DeviceID,
		Adapter:   d.AdapterID,
		Reference: d.Reference,
		Outcome:   string(d.Outcome),
		Source:    d.Source.String(),
		Value:     d.Value,
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	j.write(e)
}

// TaskFault implements scheduler.Observer.
func (j *Journal) TaskFault(meta scheduler.Meta, err error) {
	e := Entry{
		Category:  CategoryTask,
		Task:      meta.Label,
		Iteration: meta.Iteration,
	}
	if err != nil {
		e.Error = err.Error()
	}
	j.write(e)
}

// SinkFault records a failed write to a telemetry sink such as InfluxDB.
func (j *Journal) SinkFault(sink string, err error) {
	e := Entry{Category: CategorySink, Sink: sink}
	if err != nil {
		e.Error = err.Error()
	}
	j.write(e)
}

func (j *Journal) write(e Entry) {
	if err := j.Record(e); err != nil && !errors.Is(err, ErrClosed) {
		j.logger.Warn("journal entry dropped", "error", err)
	}
}

// Close syncs and closes the journal file. Calling Close more than once
// is safe.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Sync(); err != nil {
		j.file.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("syncing journal: %w", err)
	}
	return j.file.Close()
}

var (
	_ device.Diagnostics = (*Journal)(nil)
	_ scheduler.Observer = (*Journal)(nil)
)
