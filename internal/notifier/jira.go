package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var jiraKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]+-\d+$`)

// Jira posts comments through the Jira REST API v2, which accepts plain text
// comment bodies.
type Jira struct {
	baseURL    string
	email      string
	token      string
	httpClient *http.Client
}

func NewJira(baseURL, email, token string, httpClient *http.Client) *Jira {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Jira{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		email:      email,
		token:      token,
		httpClient: httpClient,
	}
}

type jiraError struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

func (j *Jira) PostComment(ctx context.Context, ticketKey, markdown string) error {
	if !jiraKeyPattern.MatchString(ticketKey) {
		return fmt.Errorf("invalid jira issue key %q", ticketKey)
	}
	body, err := json.Marshal(map[string]string{"body": markdown})
	if err != nil {
		return fmt.Errorf("encode jira comment: %w", err)
	}
	endpoint := j.baseURL + "/rest/api/2/issue/" + url.PathEscape(ticketKey) + "/comment"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create jira request: %w", err)
	}
	req.SetBasicAuth(j.email, j.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post jira comment on %s: %w", ticketKey, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var apiErr jiraError
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &apiErr) == nil && len(apiErr.ErrorMessages) > 0 {
		msg = apiErr.ErrorMessages[0]
	}
	return fmt.Errorf("jira api error (%d) on %s: %s", resp.StatusCode, ticketKey, msg)
}
