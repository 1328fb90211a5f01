package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikaelliljedahl/prfactory/internal/config"
)

func TestParseIssueRef(t *testing.T) {
	tests := []struct {
		key     string
		want    issueRef
		wantErr bool
	}{
		{key: "acme/api#42", want: issueRef{project: "acme/api", number: 42}},
		{key: "group/sub/project#7", want: issueRef{project: "group/sub/project", number: 7}},
		{key: "acme/api", wantErr: true},
		{key: "#3", wantErr: true},
		{key: "acme/api#x", wantErr: true},
		{key: "acme/api#0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := parseIssueRef(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	n, err := New(&config.NotifierEnv{Type: "log"})
	require.NoError(t, err)
	assert.IsType(t, &Log{}, n)

	n, err = New(&config.NotifierEnv{Type: "jira", JiraBaseURL: "https://example.atlassian.net"})
	require.NoError(t, err)
	assert.IsType(t, &Jira{}, n)

	n, err = New(&config.NotifierEnv{Type: "github", GitHubToken: "t"})
	require.NoError(t, err)
	assert.IsType(t, &GitHub{}, n)

	n, err = New(&config.NotifierEnv{Type: "gitlab", GitLabToken: "t"})
	require.NoError(t, err)
	assert.IsType(t, &GitLab{}, n)

	_, err = New(&config.NotifierEnv{Type: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, n.PostComment(context.Background(), "PROJ-1", "hello"))
	assert.Contains(t, buf.String(), "ticket_key=PROJ-1")
	assert.Contains(t, buf.String(), "comment=hello")
}

func TestJira_PostComment(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10000"}`))
	}))
	defer srv.Close()

	n := NewJira(srv.URL+"/", "bot@example.com", "secret", srv.Client())
	require.NoError(t, n.PostComment(context.Background(), "PROJ-12", "**Workflow stopped**"))

	assert.Equal(t, "/rest/api/2/issue/PROJ-12/comment", gotPath)
	assert.Equal(t, "bot@example.com", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, "**Workflow stopped**", gotBody["body"])
}

func TestJira_PostCommentErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errorMessages":["Issue does not exist"]}`))
	}))
	defer srv.Close()

	n := NewJira(srv.URL, "bot@example.com", "secret", srv.Client())
	err := n.PostComment(context.Background(), "PROJ-404", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "Issue does not exist")

	err = n.PostComment(context.Background(), "not a key", "x")
	assert.ErrorContains(t, err, "invalid jira issue key")
}

func TestGitHub_PostComment(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	n, err := NewGitHub("ghp_token", srv.URL+"/")
	require.NoError(t, err)
	require.NoError(t, n.PostComment(context.Background(), "acme/api#42", "done"))

	assert.Equal(t, "/api/v3/repos/acme/api/issues/42/comments", gotPath)
	assert.Equal(t, "Bearer ghp_token", gotAuth)
	assert.Equal(t, "done", gotBody["body"])

	assert.Error(t, n.PostComment(context.Background(), "api#42", "done"))
}

func TestGitLab_PostComment(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotToken = r.Header.Get("PRIVATE-TOKEN")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1,"body":"done"}`))
	}))
	defer srv.Close()

	n, err := NewGitLab("glpat", srv.URL)
	require.NoError(t, err)
	require.NoError(t, n.PostComment(context.Background(), "group/project#7", "done"))

	assert.Equal(t, "/api/v4/projects/group%2Fproject/issues/7/notes", gotPath)
	assert.Equal(t, "glpat", gotToken)
	assert.Equal(t, "done", gotBody["body"])
}
