package device

import (
	"errors"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		expr    string
		want    UpdateSource
		wantErr bool
	}{
		{"timer", SourceTimer, false},
		{"timer|api", SourceTimer | SourceAPI, false},
		{"Hardware, Link", SourceHardware | SourceLink, false},
		{"user", SourceTimer | SourceScript | SourceAPI | SourceLink, false},
		{"event", SourceTimer | SourceScript | SourceLink, false},
		{"any", SourceAny, false},
		{"10", SourceTimer | SourceAPI, false},
		{"0", 0, true},
		{"512", 0, true},
		{"", 0, true},
		{"radio", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseSource(tt.expr)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSource) {
					t.Errorf("ParseSource() error = %v, want ErrInvalidSource", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSource() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSource() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSourceAllows(t *testing.T) {
	tests := []struct {
		name    string
		allowed UpdateSource
		src     UpdateSource
		want    bool
	}{
		{"exact", SourceTimer, SourceTimer, true},
		{"subset", SourceUser, SourceAPI, true},
		{"not subset", SourceTimer, SourceAPI, false},
		{"partially outside", SourceTimer, SourceTimer | SourceAPI, false},
		{"empty source", SourceAny, 0, false},
		{"confirmation", SourceHardware | SourceUser, SourceHardware | SourceAPI, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.allowed.Allows(tt.src); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSourceString(t *testing.T) {
	if got := (SourceHardware | SourceAPI).String(); got != "hardware|api" {
		t.Errorf("String() = %q, want hardware|api", got)
	}
	if got := UpdateSource(0).String(); got != "none" {
		t.Errorf("String() = %q, want none", got)
	}
}

func TestSettingsYAML(t *testing.T) {
	input := `
allowed_sources: timer|api
ignore_duplicates: false
rate_limit: 2s
min: 0
max: 100
keep_history_days: 3
`
	var s Settings
	if err := yaml.Unmarshal([]byte(input), &s); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if s.AllowedSources != SourceTimer|SourceAPI {
		t.Errorf("AllowedSources = %v", s.AllowedSources)
	}
	if s.DedupEnabled() {
		t.Error("DedupEnabled() = true, want false")
	}
	if s.RateLimit.Seconds() != 2 {
		t.Errorf("RateLimit = %v, want 2s", s.RateLimit)
	}
	if s.Min == nil || *s.Min != 0 || s.Max == nil || *s.Max != 100 {
		t.Errorf("bounds = %v..%v", s.Min, s.Max)
	}
	if got := s.HistoryRetention(Level).Hours(); got != 72 {
		t.Errorf("HistoryRetention() = %vh, want 72h", got)
	}
}

func TestSettingsDefaults(t *testing.T) {
	var s Settings
	if s.Allowed() != SourceAny {
		t.Errorf("Allowed() = %v, want any", s.Allowed())
	}
	if !s.DedupEnabled() {
		t.Error("DedupEnabled() = false, want true")
	}
	if got := s.HistoryRetention(Counter).Hours(); got != 7*24 {
		t.Errorf("numeric HistoryRetention() = %vh", got)
	}
	if got := s.HistoryRetention(Switch).Hours(); got != 31*24 {
		t.Errorf("switch HistoryRetention() = %vh", got)
	}
	if got := s.TrendRetention().Hours(); got != 365*24 {
		t.Errorf("TrendRetention() = %vh", got)
	}
}
