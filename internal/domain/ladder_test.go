package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

func step(id StepID, side Side, size, price int64, next StepID) LadderStep {
	return LadderStep{
		ID:    id,
		Side:  side,
		Size:  decimal.NewFromInt(size),
		Price: decimal.NewFromInt(price),
		Next:  next,
	}
}

func TestLadder_Validate(t *testing.T) {
	t.Run("valid two-step ladder", func(t *testing.T) {
		l := Ladder{
			step(0, SideBuy, 10, 100, 1),
			step(1, SideSell, 10, 110, TerminalStep),
		}
		if err := l.Validate(); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
	})

	t.Run("empty ladder", func(t *testing.T) {
		var l Ladder
		var cfgErr *ConfigError
		if err := l.Validate(); !errors.As(err, &cfgErr) {
			t.Fatalf("Expected ConfigError, got %v", err)
		}
	})

	t.Run("missing first step", func(t *testing.T) {
		l := Ladder{step(1, SideBuy, 10, 100, TerminalStep)}
		if err := l.Validate(); err == nil {
			t.Fatal("Expected error when step 0 is missing")
		}
	})

	t.Run("dangling next", func(t *testing.T) {
		l := Ladder{step(0, SideBuy, 10, 100, 7)}
		if err := l.Validate(); !errors.Is(err, ErrUnknownStep) {
			t.Fatalf("Expected ErrUnknownStep, got %v", err)
		}
	})

	t.Run("non-positive size", func(t *testing.T) {
		l := Ladder{step(0, SideBuy, 0, 100, TerminalStep)}
		if err := l.Validate(); err == nil {
			t.Fatal("Expected error for zero size")
		}
	})

	t.Run("invalid side", func(t *testing.T) {
		l := Ladder{step(0, Side("HOLD"), 1, 100, TerminalStep)}
		if err := l.Validate(); err == nil {
			t.Fatal("Expected error for invalid side")
		}
	})
}

func TestLadder_StepsFor(t *testing.T) {
	l := Ladder{
		step(0, SideBuy, 10, 100, 1),
		step(1, SideSell, 10, 110, TerminalStep),
		step(0, SideSell, 10, 120, 1),
	}

	got := l.StepsFor(0)
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries for step 0, got %d", len(got))
	}
	if got[0].Side != SideBuy || got[1].Side != SideSell {
		t.Errorf("StepsFor must preserve config order, got %v", got)
	}
	if len(l.StepsFor(5)) != 0 {
		t.Error("Unknown step should yield no entries")
	}
}

func TestLadder_Fingerprint(t *testing.T) {
	a := Ladder{step(0, SideBuy, 10, 100, TerminalStep)}
	b := Ladder{step(0, SideBuy, 10, 100, TerminalStep)}
	c := Ladder{step(0, SideBuy, 10, 101, TerminalStep)}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Equal ladders should share a fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("Different ladders should not share a fingerprint")
	}
}

func TestLadderStep_DecodeConfig(t *testing.T) {
	t.Run("yaml lowercase side", func(t *testing.T) {
		src := []byte("- {id: 0, side: buy, size: 10, price: 100.5, next: -1}\n")
		var l Ladder
		if err := yaml.Unmarshal(src, &l); err != nil {
			t.Fatalf("yaml.Unmarshal failed: %v", err)
		}
		if l[0].Side != SideBuy {
			t.Errorf("Expected BUY, got %s", l[0].Side)
		}
		if !l[0].Price.Equal(decimal.RequireFromString("100.5")) {
			t.Errorf("Expected price 100.5, got %s", l[0].Price)
		}
		if !l[0].Next.IsTerminal() {
			t.Errorf("Expected terminal next, got %d", l[0].Next)
		}
	})

	t.Run("json numeric fields", func(t *testing.T) {
		src := []byte(`{"id":1,"side":"sell","size":10,"price":110,"next":-1}`)
		var s LadderStep
		if err := json.Unmarshal(src, &s); err != nil {
			t.Fatalf("json.Unmarshal failed: %v", err)
		}
		if !s.Equal(step(1, SideSell, 10, 110, TerminalStep)) {
			t.Errorf("Unexpected step %v", s)
		}
	})

	t.Run("unknown side rejected", func(t *testing.T) {
		var s LadderStep
		if err := json.Unmarshal([]byte(`{"id":0,"side":"hold"}`), &s); err == nil {
			t.Error("Expected error for unknown side")
		}
	})
}
