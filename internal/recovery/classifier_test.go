package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Types(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		msg  string
		want ErrorType
	}{
		{"dial tcp 10.0.0.1:443: connection refused", ErrorTypeNetwork},
		{"request timed out after 30s", ErrorTypeNetwork},
		{"GET https://jira.example.com/rest/api/2/issue/PROJ-1: context deadline exceeded", ErrorTypeNetwork},
		{"HTTP 429 Too Many Requests", ErrorTypeRateLimit},
		{"monthly quota exhausted", ErrorTypeRateLimit},
		{"401 Unauthorized", ErrorTypeAuthentication},
		{"Invalid token supplied", ErrorTypeAuthentication},
		{"merge conflict in main.go", ErrorTypeRepository},
		{"git: remote rejected the push", ErrorTypeRepository},
		{"Anthropic API overloaded", ErrorTypeAI},
		{"Validation failed: title is required", ErrorTypeValidation},
		{"open /work/x: no such file", ErrorTypeFileSystem},
		{"something odd happened", ErrorTypeUnknown},
		{"", ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.msg, "", 0).ErrorType)
		})
	}
}

func TestClassify_CaseInsensitiveAndDetails(t *testing.T) {
	c := NewClassifier()
	assert.Equal(t, ErrorTypeRateLimit, c.Classify("RATE LIMIT hit", "", 0).ErrorType)
	assert.Equal(t, ErrorTypeFileSystem, c.Classify("agent failed", "disk full", 0).ErrorType)
}

func TestClassify_RuleOrderPrefersNetwork(t *testing.T) {
	a := NewClassifier().Classify("Connection timeout while cloning repository", "", 0)
	assert.Equal(t, ErrorTypeNetwork, a.ErrorType)
	assert.True(t, a.IsRecoverable)
	assert.Equal(t, SeverityMedium, a.Severity)
}

func TestClassify_Thresholds(t *testing.T) {
	c := NewClassifier()
	for retry := 0; retry < 3; retry++ {
		assert.True(t, c.Classify("network unreachable", "", retry).IsRecoverable, "retry %d", retry)
	}
	assert.False(t, c.Classify("network unreachable", "", 3).IsRecoverable)

	assert.True(t, c.Classify("429", "", 4).IsRecoverable)
	assert.False(t, c.Classify("429", "", 5).IsRecoverable)
}

func TestClassify_NeverRecoverable(t *testing.T) {
	c := NewClassifier()
	a := c.Classify("Authentication failed", "", 0)
	assert.Equal(t, ErrorTypeAuthentication, a.ErrorType)
	assert.False(t, a.IsRecoverable)
	assert.Equal(t, SeverityHigh, a.Severity)

	assert.False(t, c.Classify("schema validation error", "", 0).IsRecoverable)
}

func TestClassify_CustomRules(t *testing.T) {
	c := NewClassifierWithRules([]Rule{{Type: ErrorTypeAI, Keywords: []string{"GPU"}, Threshold: 1, Severity: SeverityLow}})
	assert.Equal(t, ErrorTypeAI, c.Classify("gpu exhausted", "", 0).ErrorType)
	assert.Equal(t, ErrorTypeUnknown, c.Classify("connection reset", "", 0).ErrorType)
}
