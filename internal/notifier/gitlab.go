package notifier

import (
	"context"
	"fmt"

	"github.com/xanzy/go-gitlab"
)

// GitLab posts notes on GitLab issues. Ticket keys look like
// "group/project#123".
type GitLab struct {
	client *gitlab.Client
}

// NewGitLab creates a notifier for gitlab.com, or for a self-managed instance
// when baseURL is set.
func NewGitLab(token, baseURL string) (*GitLab, error) {
	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}
	return &GitLab{client: client}, nil
}

func (g *GitLab) PostComment(ctx context.Context, ticketKey, markdown string) error {
	ref, err := parseIssueRef(ticketKey)
	if err != nil {
		return err
	}
	_, _, err = g.client.Notes.CreateIssueNote(ref.project, ref.number,
		&gitlab.CreateIssueNoteOptions{Body: gitlab.Ptr(markdown)},
		gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("post gitlab note on %s: %w", ticketKey, err)
	}
	return nil
}
