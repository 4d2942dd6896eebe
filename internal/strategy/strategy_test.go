package strategy

import (
	"errors"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		name string
		want Mode
	}{
		{"", ModeNone},
		{"none", ModeNone},
		{"RSI", ModeRSI},
		{" macd ", ModeMACD},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.name)
		if err != nil {
			t.Errorf("ParseMode(%q) error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if _, err := ParseMode("stochastic"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("ParseMode(stochastic) err = %v, want ErrUnknownMode", err)
	}
}

func TestModeString(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeRSI, ModeMACD} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", m.String(), got, err, m)
		}
	}
	if !ModeMACD.NeedsMACD() || ModeRSI.NeedsMACD() {
		t.Error("NeedsMACD is only true for ModeMACD")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("Momentum", ModeMACD)

	m, ok := r.Get("momentum")
	if !ok || m != ModeMACD {
		t.Errorf("Get(momentum) = %v, %v; want ModeMACD, true", m, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should not be found")
	}

	names := r.List()
	want := []string{"macd", "momentum", "none", "rsi"}
	if len(names) != len(want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if got := Modes(); len(got) != 3 {
		t.Errorf("Modes() = %v, want the three built-in names", got)
	}
}
