package recovery

import (
	"strings"
)

// Never is the threshold of error types that are not recoverable at any
// retry count.
const Never = 0

// Rule maps message keywords to an error type. Rules are evaluated in order
// and the first rule with a matching keyword wins.
type Rule struct {
	Type      ErrorType
	Keywords  []string
	Threshold int
	Severity  Severity
	Category  string
	// BaseDelaySeconds is the planner's delay at retry count zero.
	BaseDelaySeconds int
	Recommendation   string
}

// DefaultRules is the ordered rule set. Network comes first, so a message
// such as "connection timeout while cloning repository" is a Network error.
var DefaultRules = []Rule{
	{
		Type:             ErrorTypeNetwork,
		Keywords:         []string{"timeout", "timed out", "deadline exceeded", "connection", "network", "dns", "socket", "unreachable", "unexpected eof"},
		Threshold:        3,
		Severity:         SeverityMedium,
		Category:         "Infrastructure",
		BaseDelaySeconds: 5,
		Recommendation:   "Check network connectivity to the ticket platform, git host and AI provider, then re-run the workflow.",
	},
	{
		Type:             ErrorTypeRateLimit,
		Keywords:         []string{"rate limit", "ratelimit", "too many requests", "429", "quota"},
		Threshold:        5,
		Severity:         SeverityLow,
		Category:         "ExternalService",
		BaseDelaySeconds: 60,
		Recommendation:   "An upstream API is throttling requests. Wait for the quota window to reset or raise the plan limits.",
	},
	{
		Type:             ErrorTypeAuthentication,
		Keywords:         []string{"unauthorized", "unauthenticated", "401", "403", "forbidden", "authentication", "invalid token", "expired token", "token expired", "credentials"},
		Threshold:        Never,
		Severity:         SeverityHigh,
		Category:         "Configuration",
		BaseDelaySeconds: 0,
		Recommendation:   "Credentials were rejected. Rotate the API token for the failing integration and restart the workflow.",
	},
	{
		Type:             ErrorTypeRepository,
		Keywords:         []string{"git ", "git:", "repository", "merge conflict", "branch", "clone", "push", "pull request", "remote rejected"},
		Threshold:        3,
		Severity:         SeverityMedium,
		Category:         "Repository",
		BaseDelaySeconds: 10,
		Recommendation:   "The repository operation failed. Check branch protection, conflicts and repository access.",
	},
	{
		Type:             ErrorTypeAI,
		Keywords:         []string{"claude", "openai", "anthropic", "llm", "model", "overloaded", "completion", "context length"},
		Threshold:        5,
		Severity:         SeverityMedium,
		Category:         "ExternalService",
		BaseDelaySeconds: 30,
		Recommendation:   "The AI provider did not produce a usable response. Check provider status or reduce the prompt size.",
	},
	{
		Type:             ErrorTypeValidation,
		Keywords:         []string{"validation", "invalid", "required", "malformed", "schema"},
		Threshold:        Never,
		Severity:         SeverityMedium,
		Category:         "Input",
		BaseDelaySeconds: 0,
		Recommendation:   "The ticket or agent input is invalid. Fix the ticket content and re-trigger the workflow.",
	},
	{
		Type:             ErrorTypeFileSystem,
		Keywords:         []string{"no such file", "file not found", "disk", "directory", "permission denied", "access denied", "read-only file system"},
		Threshold:        2,
		Severity:         SeverityHigh,
		Category:         "Infrastructure",
		BaseDelaySeconds: 5,
		Recommendation:   "A workspace file operation failed. Check free disk space and permissions on the workspace directory.",
	},
}

var unknownRule = Rule{
	Type:             ErrorTypeUnknown,
	Threshold:        2,
	Severity:         SeverityMedium,
	Category:         "Unknown",
	BaseDelaySeconds: 10,
	Recommendation:   "The failure could not be classified. Inspect the run logs and checkpoints for this ticket.",
}

// Classifier turns raw failure text into an Analysis. It is safe for
// concurrent use.
type Classifier struct {
	rules []Rule
}

func NewClassifier() *Classifier {
	return NewClassifierWithRules(DefaultRules)
}

func NewClassifierWithRules(rules []Rule) *Classifier {
	c := &Classifier{rules: make([]Rule, len(rules))}
	for i, r := range rules {
		r.Keywords = lowerAll(r.Keywords)
		c.rules[i] = r
	}
	return c
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Classify matches message and details against the rules.
func (c *Classifier) Classify(message, details string, retryCount int) Analysis {
	rule := c.match(strings.ToLower(message + "\n" + details))
	return Analysis{
		ErrorType:     rule.Type,
		IsRecoverable: rule.Threshold != Never && retryCount < rule.Threshold,
		Severity:      rule.Severity,
		Category:      rule.Category,
		Message:       message,
		RetryCount:    retryCount,
	}
}

func (c *Classifier) match(text string) Rule {
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return r
			}
		}
	}
	return unknownRule
}

func (c *Classifier) rule(t ErrorType) (Rule, bool) {
	for _, r := range c.rules {
		if r.Type == t {
			return r, true
		}
	}
	if t == ErrorTypeUnknown {
		return unknownRule, true
	}
	return Rule{}, false
}
