package domain

// TrackedOrder pairs a live exchange order with the ladder entry that created it.
type TrackedOrder struct {
	ExchangeOrder ExchangeOrder `json:"exchange_order"`
	ConfigStep    LadderStep    `json:"config_order"`
}

// EngineState is the persisted snapshot of the ladder position.
// All tracked orders belong to the cohort of CurrentStep.
type EngineState struct {
	CurrentStep StepID         `json:"order_id"`
	Orders      []TrackedOrder `json:"orders"`
}

// NewEngineState returns the state of a ladder that has not placed anything yet.
func NewEngineState() *EngineState {
	return &EngineState{
		CurrentStep: FirstStep,
		Orders:      []TrackedOrder{},
	}
}

// IsComplete reports whether the ladder reached its terminal sentinel.
func (s *EngineState) IsComplete() bool {
	return s.CurrentStep.IsTerminal()
}

// IndexOf returns the position of the tracked order with the given
// exchange id, or -1 when no tracked order matches.
func (s *EngineState) IndexOf(orderID string) int {
	if orderID == "" {
		return -1
	}
	for i := range s.Orders {
		if s.Orders[i].ExchangeOrder.ID == orderID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy, safe to hand to other goroutines.
func (s *EngineState) Clone() *EngineState {
	out := &EngineState{
		CurrentStep: s.CurrentStep,
		Orders:      make([]TrackedOrder, len(s.Orders)),
	}
	copy(out.Orders, s.Orders)
	return out
}

// Equal compares two snapshots by value.
func (s *EngineState) Equal(o *EngineState) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.CurrentStep != o.CurrentStep || len(s.Orders) != len(o.Orders) {
		return false
	}
	for i := range s.Orders {
		if !s.Orders[i].ExchangeOrder.Equal(o.Orders[i].ExchangeOrder) {
			return false
		}
		if !s.Orders[i].ConfigStep.Equal(o.Orders[i].ConfigStep) {
			return false
		}
	}
	return true
}

// MissingSteps returns the ladder entries of the current step that have
// no tracked order. A step entry is matched to at most one tracked order.
func (s *EngineState) MissingSteps(l Ladder) []LadderStep {
	if s.IsComplete() {
		return nil
	}
	used := make([]bool, len(s.Orders))
	var missing []LadderStep
	for _, step := range l.StepsFor(s.CurrentStep) {
		found := false
		for i := range s.Orders {
			if !used[i] && s.Orders[i].ConfigStep.Equal(step) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, step)
		}
	}
	return missing
}
