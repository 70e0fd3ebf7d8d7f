package transcript

import (
	"encoding/json"
	"testing"
)

func TestParser_Parse(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   int
		wantOK bool
	}{
		{"float seconds", 1.5, 1500, true},
		{"small int seconds", 90, 90000, true},
		{"int at threshold is millis", 1000, 1000, true},
		{"large int millis", 65000, 65000, true},
		{"fractional above threshold is seconds", 1000.5, 1000500, true},
		{"json number", json.Number("2.25"), 2250, true},
		{"numeric string", "12", 12000, true},
		{"numeric string comma", "1,5", 1500, true},
		{"clock dot", "00:01:02.345", 62345, true},
		{"clock comma", "00:00:01,000", 1000, true},
		{"minutes seconds", "02:30", 150000, true},
		{"minutes seconds fraction", "2:30.5", 150500, true},
		{"hours beyond 24", "25:00:00.000", 90_000_000, true},
		{"seconds rounding tolerance", "00:00:60.5", 60500, true},
		{"seconds too large", "00:00:61.000", 0, false},
		{"minutes too large", "00:60:00.000", 0, false},
		{"negative number", -1, 0, false},
		{"negative clock", "-00:00:01.000", 0, false},
		{"negative seconds field", "00:-1", 0, false},
		{"four fields", "1:00:00:00", 0, false},
		{"garbage", "soon", 0, false},
		{"empty", "", 0, false},
		{"at ceiling", float64(MaxTimestampMs), MaxTimestampMs, true},
		{"huge float", 1e300, 0, false},
		{"beyond int64", 9.3e18, 0, false},
		{"huge string", "1e19", 0, false},
		{"huge json number", json.Number("1e19"), 0, false},
		{"huge seconds", 2e9, 0, false},
		{"huge clock hours", "2000000000:00:00", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DefaultParser.Parse(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Parse(%v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParser_ConfigurableThreshold(t *testing.T) {
	p := NewParser(100_000)
	got, ok := p.Parse(1500)
	if !ok || got != 1_500_000 {
		t.Errorf("Parse(1500) with threshold 100000 = (%d, %v), want (1500000, true)", got, ok)
	}
	got, ok = p.Parse(120_000)
	if !ok || got != 120_000 {
		t.Errorf("Parse(120000) with threshold 100000 = (%d, %v), want (120000, true)", got, ok)
	}

	if NewParser(0).MillisThreshold != DefaultMillisThreshold {
		t.Error("NewParser(0) should select the default threshold")
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		ms   int
		want string
	}{
		{0, "00:00:00.000"},
		{1000, "00:00:01.000"},
		{62345, "00:01:02.345"},
		{3_723_004, "01:02:03.004"},
		{-5, "00:00:00.000"},
	}
	for _, tt := range tests {
		if got := FormatClock(tt.ms); got != tt.want {
			t.Errorf("FormatClock(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}
