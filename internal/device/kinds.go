package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// KindName identifies a device value kind.
type KindName string

// Device value kinds.
const (
	KindCounter KindName = "counter"
	KindLevel   KindName = "level"
	KindSwitch  KindName = "switch"
	KindText    KindName = "text"
)

// Bucket is a numeric history bucket: the running mean of every sample that
// landed in it and the number of samples.
type Bucket struct {
	Value   float64
	Samples int
}

// Kind is the capability set the update pipeline needs from a value kind.
// Values are carried as any and always hold the kind's native Go type:
// int64 for counters, float64 for levels, SwitchOption for switches and
// string for text.
type Kind interface {
	// Name returns the kind's identifier.
	Name() KindName

	// Numeric reports whether values are stored as numbers and bucketed.
	Numeric() bool

	// Zero returns the value a fresh device starts with.
	Zero() any

	// Convert normalises raw input (numbers, strings, options) to the
	// kind's native type.
	Convert(raw any) (any, error)

	// Validate checks a converted value against the device settings.
	Validate(v any, s Settings) error

	// Format renders a value for logs, MQTT payloads and text history.
	Format(v any) string

	// MergeIntoBucket folds v into b. It returns false for kinds that keep
	// every sample as its own row.
	MergeIntoBucket(b Bucket, v any) (Bucket, bool)
}

// KindByName returns the kind registered under name.
func KindByName(name string) (Kind, error) {
	switch KindName(strings.ToLower(strings.TrimSpace(name))) {
	case KindCounter:
		return Counter, nil
	case KindLevel:
		return Level, nil
	case KindSwitch:
		return Switch, nil
	case KindText:
		return Text, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, name)
	}
}

// Kind singletons.
var (
	Counter Kind = counterKind{}
	Level   Kind = levelKind{}
	Switch  Kind = switchKind{}
	Text    Kind = textKind{}
)

// AsFloat converts a numeric kind's value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// mergeMean adds v to a running mean bucket.
func mergeMean(b Bucket, v float64) Bucket {
	if b.Samples <= 0 {
		return Bucket{Value: v, Samples: 1}
	}
	n := float64(b.Samples)
	return Bucket{Value: (b.Value*n + v) / (n + 1), Samples: b.Samples + 1}
}

// --- counter ---

type counterKind struct{}

func (counterKind) Name() KindName { return KindCounter }
func (counterKind) Numeric() bool  { return true }
func (counterKind) Zero() any      { return int64(0) }

func (counterKind) Convert(raw any) (any, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: counter %v", ErrInvalidValue, v)
		}
		return int64(math.Round(v)), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if ferr != nil {
				return nil, fmt.Errorf("%w: counter %q", ErrInvalidValue, v)
			}
			return int64(math.Round(f)), nil
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: counter from %T", ErrInvalidValue, raw)
	}
}

func (counterKind) Validate(v any, _ Settings) error {
	if _, ok := v.(int64); !ok {
		return fmt.Errorf("%w: counter holds %T", ErrInvalidValue, v)
	}
	return nil
}

func (counterKind) Format(v any) string {
	n, _ := v.(int64)
	return strconv.FormatInt(n, 10)
}

func (counterKind) MergeIntoBucket(b Bucket, v any) (Bucket, bool) {
	f, _ := AsFloat(v)
	return mergeMean(b, f), true
}

// --- level ---

type levelKind struct{}

func (levelKind) Name() KindName { return KindLevel }
func (levelKind) Numeric() bool  { return true }
func (levelKind) Zero() any      { return float64(0) }

func (levelKind) Convert(raw any) (any, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int64:
		f = float64(v)
	case int:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: level %q", ErrInvalidValue, v)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%w: level from %T", ErrInvalidValue, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: level %v", ErrInvalidValue, f)
	}
	return f, nil
}

func (levelKind) Validate(v any, s Settings) error {
	f, ok := v.(float64)
	if !ok {
		return fmt.Errorf("%w: level holds %T", ErrInvalidValue, v)
	}
	if s.Min != nil && f < *s.Min {
		return fmt.Errorf("%w: %v < min %v", ErrValidationRejected, f, *s.Min)
	}
	if s.Max != nil && f > *s.Max {
		return fmt.Errorf("%w: %v > max %v", ErrValidationRejected, f, *s.Max)
	}
	return nil
}

func (levelKind) Format(v any) string {
	f, _ := v.(float64)
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (levelKind) MergeIntoBucket(b Bucket, v any) (Bucket, bool) {
	f, _ := AsFloat(v)
	return mergeMean(b, f), true
}

// --- switch ---

// SwitchOption is an enumerated switch value.
type SwitchOption uint16

// Switch options.
const (
	OptionOn SwitchOption = 1 << iota
	OptionOff
	OptionOpen
	OptionClose
	OptionStop
	OptionStart
	OptionIdle
	OptionActivate
)

var optionNames = map[SwitchOption]string{
	OptionOn:       "On",
	OptionOff:      "Off",
	OptionOpen:     "Open",
	OptionClose:    "Close",
	OptionStop:     "Stop",
	OptionStart:    "Start",
	OptionIdle:     "Idle",
	OptionActivate: "Activate",
}

// String returns the option's display name.
func (o SwitchOption) String() string {
	if name, ok := optionNames[o]; ok {
		return name
	}
	return "SwitchOption(" + strconv.Itoa(int(o)) + ")"
}

// Opposite returns the option that undoes o.
func (o SwitchOption) Opposite() SwitchOption {
	switch o {
	case OptionOn:
		return OptionOff
	case OptionOff:
		return OptionOn
	case OptionOpen:
		return OptionClose
	case OptionClose:
		return OptionOpen
	case OptionStop:
		return OptionStart
	case OptionStart:
		return OptionStop
	case OptionIdle:
		return OptionActivate
	case OptionActivate:
		return OptionIdle
	default:
		return o
	}
}

// ParseSwitchOption resolves a case-insensitive option name.
func ParseSwitchOption(name string) (SwitchOption, error) {
	name = strings.TrimSpace(name)
	for opt, n := range optionNames {
		if strings.EqualFold(n, name) {
			return opt, nil
		}
	}
	return 0, fmt.Errorf("%w: switch option %q", ErrInvalidValue, name)
}

type switchKind struct{}

func (switchKind) Name() KindName { return KindSwitch }
func (switchKind) Numeric() bool  { return false }
func (switchKind) Zero() any      { return OptionOff }

func (switchKind) Convert(raw any) (any, error) {
	switch v := raw.(type) {
	case SwitchOption:
		if _, ok := optionNames[v]; !ok {
			return nil, fmt.Errorf("%w: switch option %d", ErrInvalidValue, v)
		}
		return v, nil
	case string:
		return ParseSwitchOption(v)
	case bool:
		if v {
			return OptionOn, nil
		}
		return OptionOff, nil
	default:
		return nil, fmt.Errorf("%w: switch from %T", ErrInvalidValue, raw)
	}
}

func (switchKind) Validate(v any, _ Settings) error {
	o, ok := v.(SwitchOption)
	if !ok {
		return fmt.Errorf("%w: switch holds %T", ErrInvalidValue, v)
	}
	if _, known := optionNames[o]; !known {
		return fmt.Errorf("%w: switch option %d", ErrInvalidValue, o)
	}
	return nil
}

func (switchKind) Format(v any) string {
	o, _ := v.(SwitchOption)
	return o.String()
}

func (switchKind) MergeIntoBucket(b Bucket, _ any) (Bucket, bool) {
	return b, false
}

// --- text ---

type textKind struct{}

func (textKind) Name() KindName { return KindText }
func (textKind) Numeric() bool  { return false }
func (textKind) Zero() any      { return "" }

func (textKind) Convert(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(raw), nil
	}
}

func (textKind) Validate(v any, _ Settings) error {
	if _, ok := v.(string); !ok {
		return fmt.Errorf("%w: text holds %T", ErrInvalidValue, v)
	}
	return nil
}

func (textKind) Format(v any) string {
	s, _ := v.(string)
	return s
}

func (textKind) MergeIntoBucket(b Bucket, _ any) (Bucket, bool) {
	return b, false
}
