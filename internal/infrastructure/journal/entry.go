package journal

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Category classifies journal entries.
type Category uint8

const (
	// CategoryUpdate is a device update outcome reported by the pipeline
	// or an adapter.
	CategoryUpdate Category = 1
	// CategoryTask is a scheduler task that failed or panicked.
	CategoryTask Category = 2
	// CategorySink is a telemetry sink that failed to store device values.
	CategorySink Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryUpdate:
		return "update"
	case CategoryTask:
		return "task"
	case CategorySink:
		return "sink"
	default:
		return "unknown"
	}
}

// Entry is one journal record. CBOR encoding uses integer keys.
type Entry struct {
	Session   string    `cbor:"1,keyasint"`
	At        time.Time `cbor:"2,keyasint"`
	Category  Category  `cbor:"3,keyasint"`
	DeviceID  int64     `cbor:"4,keyasint,omitempty"`
	Adapter   string    `cbor:"5,keyasint,omitempty"`
	Reference string    `cbor:"6,keyasint,omitempty"`
	Outcome   string    `cbor:"7,keyasint,omitempty"`
	Source    string    `cbor:"8,keyasint,omitempty"`
	Value     string    `cbor:"9,keyasint,omitempty"`
	Task      string    `cbor:"10,keyasint,omitempty"`
	Iteration uint      `cbor:"11,keyasint,omitempty"`
	Error     string    `cbor:"12,keyasint,omitempty"`
	Sink      string    `cbor:"13,keyasint,omitempty"`
}

// String renders the entry on one line for terminal output.
func (e Entry) String() string {
	switch e.Category {
	case CategoryTask:
		return fmt.Sprintf("%s task %s #%d: %s",
			e.At.Format(time.RFC3339), e.Task, e.Iteration, e.Error)
	case CategorySink:
		return fmt.Sprintf("%s sink %s: %s", e.At.Format(time.RFC3339), e.Sink, e.Error)
	default:
		s := fmt.Sprintf("%s device %d (%s/%s) %s source=%s value=%q",
			e.At.Format(time.RFC3339), e.DeviceID, e.Adapter, e.Reference, e.Outcome, e.Source, e.Value)
		if e.Error != "" {
			s += ": " + e.Error
		}
		return s
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("journal: CBOR decoder mode: %v", err))
	}
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
