package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecisionTrace_AddStep(t *testing.T) {
	tr := &DecisionTrace{}
	tr.AddStep("rate_limit", "allowed", "remaining", "2")
	tr.AddStep("challenge", "not_required")
	tr.AddStep("scan", "high", "detections", "1", "dangling")

	assert.Equal(t, []string{"rate_limit", "challenge", "scan"}, tr.Stages())
	assert.Equal(t, map[string]string{"remaining": "2"}, tr.Steps[0].Details)
	assert.Nil(t, tr.Steps[1].Details)
	assert.Equal(t, map[string]string{"detections": "1"}, tr.Steps[2].Details)
}

func TestDecisionTrace_NilIsNoop(t *testing.T) {
	var tr *DecisionTrace
	tr.AddStep("rate_limit", "allowed")
	assert.Nil(t, tr.Stages())
}
