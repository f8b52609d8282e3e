package device

import "time"

// Retention defaults in days.
const (
	DefaultKeepNumericHistoryDays = 7
	DefaultKeepTextHistoryDays    = 31
	DefaultKeepTrendsDays         = 365
)

// Settings is the per-device configuration consulted by the update pipeline
// and the history aggregator.
type Settings struct {
	// AllowedSources is the set of sources permitted to change the value.
	// Zero means every source is allowed.
	AllowedSources UpdateSource `yaml:"allowed_sources" json:"allowed_sources"`

	// IgnoreDuplicates drops updates that repeat the current value once the
	// adapter is ready. Default: true.
	IgnoreDuplicates *bool `yaml:"ignore_duplicates" json:"ignore_duplicates,omitempty"`

	// RateLimit is the minimum interval between applied updates. Zero
	// disables rate limiting.
	RateLimit time.Duration `yaml:"rate_limit" json:"rate_limit,omitempty"`

	// Min and Max bound level values.
	Min *float64 `yaml:"min" json:"min,omitempty"`
	Max *float64 `yaml:"max" json:"max,omitempty"`

	// KeepHistoryDays is the raw history retention. Zero uses the kind default.
	KeepHistoryDays int `yaml:"keep_history_days" json:"keep_history_days,omitempty"`

	// KeepTrendsDays is the trend retention. Zero uses the default.
	KeepTrendsDays int `yaml:"keep_trends_days" json:"keep_trends_days,omitempty"`

	// PreventRace makes a bridge revert unsolicited hardware reports that
	// contradict a value recently set by a script or timer.
	PreventRace bool `yaml:"prevent_race" json:"prevent_race,omitempty"`
}

// Allowed returns the effective allowed-source mask.
func (s Settings) Allowed() UpdateSource {
	if s.AllowedSources == 0 {
		return SourceAny
	}
	return s.AllowedSources
}

// DedupEnabled reports whether duplicate values are ignored.
func (s Settings) DedupEnabled() bool {
	if s.IgnoreDuplicates == nil {
		return true
	}
	return *s.IgnoreDuplicates
}

// HistoryRetention returns how long raw history is kept for a kind.
func (s Settings) HistoryRetention(kind Kind) time.Duration {
	days := s.KeepHistoryDays
	if days <= 0 {
		days = DefaultKeepNumericHistoryDays
		if !kind.Numeric() {
			days = DefaultKeepTextHistoryDays
		}
	}
	return time.Duration(days) * 24 * time.Hour
}

// TrendRetention returns how long trend rows are kept.
func (s Settings) TrendRetention() time.Duration {
	days := s.KeepTrendsDays
	if days <= 0 {
		days = DefaultKeepTrendsDays
	}
	return time.Duration(days) * 24 * time.Hour
}
