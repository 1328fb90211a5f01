// Package notifier posts workflow comments back to the ticket platform the
// ticket came from.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mikaelliljedahl/prfactory/internal/config"
)

// Notifier posts a markdown comment on a ticket identified by its platform
// key.
type Notifier interface {
	PostComment(ctx context.Context, ticketKey, markdown string) error
}

// New builds the notifier selected by env.
func New(env *config.NotifierEnv) (Notifier, error) {
	switch env.Type {
	case "", "log":
		return NewLog(slog.Default()), nil
	case "jira":
		return NewJira(env.JiraBaseURL, env.JiraEmail, env.JiraAPIToken, nil), nil
	case "github":
		return NewGitHub(env.GitHubToken, env.GitHubBaseURL)
	case "gitlab":
		return NewGitLab(env.GitLabToken, env.GitLabBaseURL)
	default:
		return nil, fmt.Errorf("unknown notifier type %q", env.Type)
	}
}

// issueRef is a repository-scoped issue key such as "acme/api#42".
type issueRef struct {
	project string
	number  int
}

func parseIssueRef(key string) (issueRef, error) {
	project, num, ok := strings.Cut(key, "#")
	if !ok || project == "" {
		return issueRef{}, fmt.Errorf("ticket key %q is not of the form <project>#<number>", key)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return issueRef{}, fmt.Errorf("ticket key %q has an invalid issue number", key)
	}
	return issueRef{project: project, number: n}, nil
}

// Log writes comments to the structured log instead of a platform.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) PostComment(ctx context.Context, ticketKey, markdown string) error {
	l.logger.InfoContext(ctx, "ticket comment", "ticket_key", ticketKey, "comment", markdown)
	return nil
}
