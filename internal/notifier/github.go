package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHub posts comments on GitHub issues. Ticket keys look like
// "owner/repo#123".
type GitHub struct {
	client *github.Client
}

// NewGitHub creates a notifier for github.com, or for a GitHub Enterprise
// server when baseURL is set.
func NewGitHub(token, baseURL string) (*GitHub, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configure github enterprise url: %w", err)
		}
	}
	return &GitHub{client: client}, nil
}

func (g *GitHub) PostComment(ctx context.Context, ticketKey, markdown string) error {
	ref, err := parseIssueRef(ticketKey)
	if err != nil {
		return err
	}
	owner, repo, ok := strings.Cut(ref.project, "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("ticket key %q must name owner/repo", ticketKey)
	}
	_, _, err = g.client.Issues.CreateComment(ctx, owner, repo, ref.number, &github.IssueComment{
		Body: github.String(markdown),
	})
	if err != nil {
		return fmt.Errorf("post github comment on %s: %w", ticketKey, err)
	}
	return nil
}
