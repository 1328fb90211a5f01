package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
)

type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

// Mount registers the checkpoint routes under a ticket router that captures
// {ticketID}.
func (s *Server) Mount(r chi.Router) {
	r.Get("/checkpoints", s.list)
	r.Get("/checkpoints/diff", s.diff)
	r.Delete("/checkpoints/{checkpointID}", s.discard)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := s.repo.GetAll(ctx, chi.URLParam(r, "ticketID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if all == nil {
		all = []*Checkpoint{}
	}
	cerr.SetJSONResponse(ctx, all)
}

type diffResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
	Diff string `json:"diff"`
}

func (s *Server) diff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ticketID := chi.URLParam(r, "ticketID")
	fromID, toID := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if fromID == "" || toID == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "from and to are required", nil)
		return
	}
	from, err := s.repo.Get(ctx, ticketID, fromID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	to, err := s.repo.Get(ctx, ticketID, toID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	d, err := PayloadDiff(from, to)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.Internal, "server error", err)
		return
	}
	cerr.SetJSONResponse(ctx, diffResponse{From: from.ID, To: to.ID, Diff: d})
}

func (s *Server) discard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.repo.UpdateStatus(ctx, chi.URLParam(r, "ticketID"), chi.URLParam(r, "checkpointID"), StatusDeleted); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"status": string(StatusDeleted)})
}

// PayloadDiff renders a unified diff between the indented JSON payloads of
// two checkpoints.
func PayloadDiff(from, to *Checkpoint) (string, error) {
	a, err := indent(from.Payload)
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", from.ID, err)
	}
	b, err := indent(to.Payload)
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", to.ID, err)
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: from.AgentName + "@" + from.ID,
		ToFile:   to.AgentName + "@" + to.ID,
		Context:  3,
	})
}

func indent(payload []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return "", err
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}
