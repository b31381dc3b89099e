package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// StepID identifies a ladder step. Several LadderSteps may share one id.
type StepID int

const (
	// FirstStep is the step a fresh ladder starts from.
	FirstStep StepID = 0
	// TerminalStep marks the end of the ladder.
	TerminalStep StepID = -1
)

// IsTerminal reports whether the id is the terminal sentinel.
func (id StepID) IsTerminal() bool {
	return id == TerminalStep
}

// LadderStep is one configured order definition of the ladder.
// It is immutable once loaded.
type LadderStep struct {
	ID    StepID          `json:"id" yaml:"id"`
	Side  Side            `json:"side" yaml:"side"`
	Size  decimal.Decimal `json:"size" yaml:"size"`
	Price decimal.Decimal `json:"price" yaml:"price"`
	Next  StepID          `json:"next" yaml:"next"`
}

// Equal compares two steps by value (decimals by numeric value).
func (s LadderStep) Equal(o LadderStep) bool {
	return s.ID == o.ID &&
		s.Side == o.Side &&
		s.Size.Equal(o.Size) &&
		s.Price.Equal(o.Price) &&
		s.Next == o.Next
}

func (s LadderStep) String() string {
	return fmt.Sprintf("#%d %s %s@%s -> %d", s.ID, s.Side, s.Size, s.Price, s.Next)
}

// Ladder is the configured chain of steps, in configuration order.
type Ladder []LadderStep

// StepsFor returns every entry whose id equals id, preserving config order.
func (l Ladder) StepsFor(id StepID) []LadderStep {
	var out []LadderStep
	for _, s := range l {
		if s.ID == id {
			out = append(out, s)
		}
	}
	return out
}

// HasStep reports whether at least one entry carries the id.
func (l Ladder) HasStep(id StepID) bool {
	for _, s := range l {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Validate checks the ladder is runnable: it starts at step 0, every
// entry is a positive-size positive-price order, and every successor
// either exists or is the terminal sentinel.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return &ConfigError{Field: "ladder", Err: fmt.Errorf("no steps configured")}
	}
	if !l.HasStep(FirstStep) {
		return &ConfigError{Field: "ladder", Err: fmt.Errorf("step %d is required", FirstStep)}
	}

	for i, s := range l {
		field := fmt.Sprintf("ladder[%d]", i)
		if s.ID < 0 {
			return &ConfigError{Field: field, Err: fmt.Errorf("negative id %d", s.ID)}
		}
		if !s.Side.Valid() {
			return &ConfigError{Field: field, Err: fmt.Errorf("invalid side %q", s.Side)}
		}
		if !s.Size.IsPositive() {
			return &ConfigError{Field: field, Err: fmt.Errorf("size must be positive, got %s", s.Size)}
		}
		if !s.Price.IsPositive() {
			return &ConfigError{Field: field, Err: fmt.Errorf("price must be positive, got %s", s.Price)}
		}
		if !s.Next.IsTerminal() && !l.HasStep(s.Next) {
			return &ConfigError{Field: field, Err: fmt.Errorf("next step %d: %w", s.Next, ErrUnknownStep)}
		}
	}
	return nil
}

// Fingerprint returns a stable hash of the ladder, used to notice a
// configuration change between two runs that share a state file.
func (l Ladder) Fingerprint() string {
	type canon struct {
		ID    StepID `json:"id"`
		Side  Side   `json:"side"`
		Size  string `json:"size"`
		Price string `json:"price"`
		Next  StepID `json:"next"`
	}
	rows := make([]canon, len(l))
	for i, s := range l {
		rows[i] = canon{ID: s.ID, Side: s.Side, Size: s.Size.String(), Price: s.Price.String(), Next: s.Next}
	}
	b, _ := json.Marshal(rows)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(SideBuy):
		return SideBuy, nil
	case string(SideSell):
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}
