package device

import (
	"fmt"
	"strconv"
	"strings"
)

// UpdateSource is a bitmask identifying who or what originated a value
// change. It drives authorization and lets an adapter tell its own hardware
// echo apart from an externally originated request.
type UpdateSource uint32

// Update sources.
const (
	SourceHardware UpdateSource = 1 << iota
	SourceTimer
	SourceScript
	SourceAPI
	SourceLink
	SourceSystem
	SourceInternal
	SourceInit
)

// Source groups.
const (
	// SourceUser covers changes a person requested, directly or indirectly.
	SourceUser = SourceTimer | SourceScript | SourceAPI | SourceLink

	// SourceEvent covers changes triggered by automation rather than a
	// direct request.
	SourceEvent = SourceTimer | SourceScript | SourceLink

	// SourceAny allows every source.
	SourceAny = SourceHardware | SourceTimer | SourceScript | SourceAPI |
		SourceLink | SourceSystem | SourceInternal | SourceInit
)

// sourceNames maps single-bit sources and groups to their config names.
var sourceNames = []struct {
	name   string
	source UpdateSource
}{
	{"hardware", SourceHardware},
	{"timer", SourceTimer},
	{"script", SourceScript},
	{"api", SourceAPI},
	{"link", SourceLink},
	{"system", SourceSystem},
	{"internal", SourceInternal},
	{"init", SourceInit},
	{"user", SourceUser},
	{"event", SourceEvent},
	{"any", SourceAny},
}

// Has reports whether every bit of other is set in s.
func (s UpdateSource) Has(other UpdateSource) bool {
	return s&other == other
}

// Allows reports whether an update tagged src is permitted by the allowed
// mask s. The source must be non-empty and a subset of s.
func (s UpdateSource) Allows(src UpdateSource) bool {
	return src != 0 && s&src == src
}

// String returns the single-bit names joined with "|".
func (s UpdateSource) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	rest := s
	for _, n := range sourceNames[:8] {
		if s&n.source != 0 {
			parts = append(parts, n.name)
			rest &^= n.source
		}
	}
	if rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}

// ParseSource parses a source expression: names or groups joined with "|"
// or ",", or a decimal bitmask.
//
// Parameters:
//   - expr: e.g. "timer|api", "user", "any" or "10"
//
// Returns:
//   - UpdateSource: The combined mask
//   - error: ErrInvalidSource if a name is unknown or the mask is empty
func ParseSource(expr string) (UpdateSource, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidSource)
	}
	if n, err := strconv.ParseUint(expr, 10, 32); err == nil {
		if n == 0 || UpdateSource(n)&^SourceAny != 0 {
			return 0, fmt.Errorf("%w: mask %d", ErrInvalidSource, n)
		}
		return UpdateSource(n), nil
	}

	var mask UpdateSource
	for _, part := range strings.FieldsFunc(expr, func(r rune) bool { return r == '|' || r == ',' }) {
		name := strings.ToLower(strings.TrimSpace(part))
		found := false
		for _, n := range sourceNames {
			if n.name == name {
				mask |= n.source
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSource, part)
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSource, expr)
	}
	return mask, nil
}

// MarshalText implements encoding.TextMarshaler.
func (s UpdateSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so sources can be
// written by name in YAML and JSON.
func (s *UpdateSource) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
