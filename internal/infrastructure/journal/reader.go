package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects journal entries. Zero fields match everything.
type Filter struct {
	Session  string
	Category Category
	DeviceID int64
	Outcome  string
	Since    time.Time
}

func (f Filter) matches(e Entry) bool {
	if f.Session != "" && e.Session != f.Session {
		return false
	}
	if f.Category != 0 && e.Category != f.Category {
		return false
	}
	if f.DeviceID != 0 && e.DeviceID != f.DeviceID {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.At.Before(f.Since) {
		return false
	}
	return true
}

// Reader streams entries from a journal file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens the journal at path for reading entries matching filter.
func NewReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Reader{
		file:    f,
		decoder: newDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching entry, or io.EOF when there are no more.
// A trailing partially written entry is treated as the end of the file.
func (r *Reader) Next() (Entry, error) {
	for {
		var e Entry
		if err := r.decoder.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Entry{}, io.EOF
			}
			return Entry{}, fmt.Errorf("reading journal entry: %w", err)
		}
		if r.filter.matches(e) {
			return e, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll returns every entry in path matching filter.
func ReadAll(path string, filter Filter) ([]Entry, error) {
	r, err := NewReader(path, filter)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []Entry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}
