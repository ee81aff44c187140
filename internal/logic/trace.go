package logic

// TraceStep records what one gate stage saw and decided.
type TraceStep struct {
	Stage   string            `json:"stage"`
	Result  string            `json:"result"`
	Details map[string]string `json:"details,omitempty"`
}

// DecisionTrace captures the ordered stages a submission went through.
type DecisionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry for stage. Calls on a nil trace are ignored
// so callers can trace unconditionally.
func (t *DecisionTrace) AddStep(stage, result string, kv ...string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, Result: result}
	if len(kv) > 1 {
		step.Details = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			step.Details[kv[i]] = kv[i+1]
		}
	}
	t.Steps = append(t.Steps, step)
}

// Stages returns the stage names in order.
func (t *DecisionTrace) Stages() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		out[i] = s.Stage
	}
	return out
}
