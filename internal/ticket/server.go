package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/mikaelliljedahl/prfactory/internal/eventbus"
	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
)

const defaultListLimit = 50

// Starter starts a background workflow run for a ticket. It reports false
// when the ticket is already running.
type Starter interface {
	Start(ctx context.Context, ticketID string) bool
}

// CheckpointCleaner removes every checkpoint stored for a ticket.
type CheckpointCleaner interface {
	DeleteAllForTicket(ctx context.Context, ticketID string) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, event *eventbus.Event) error
}

type ServerDependencies struct {
	Transitions *TransitionTable
	Checkpoints CheckpointCleaner
	Publisher   Publisher
	Runner      Starter
	// RunContext bounds background runs started over HTTP. It should outlive
	// single requests and end on shutdown.
	RunContext context.Context
}

type Server struct {
	repo        Repository
	transitions *TransitionTable
	checkpoints CheckpointCleaner
	publisher   Publisher
	runner      Starter
	runCtx      context.Context
	nested      []func(chi.Router)
}

func NewServer(repo Repository, deps ServerDependencies) *Server {
	s := &Server{
		repo:        repo,
		transitions: deps.Transitions,
		checkpoints: deps.Checkpoints,
		publisher:   deps.Publisher,
		runner:      deps.Runner,
		runCtx:      deps.RunContext,
	}
	if s.transitions == nil {
		s.transitions = DefaultTransitions()
	}
	if s.runCtx == nil {
		s.runCtx = context.Background()
	}
	return s
}

// Nest registers extra routes under /tickets/{ticketID}.
func (s *Server) Nest(fn func(r chi.Router)) {
	s.nested = append(s.nested, fn)
}

func (s *Server) Mount(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Post("/", s.CreateTicket)
		r.Get("/", s.ListTickets)
		r.Route("/{ticketID}", func(r chi.Router) {
			r.Get("/", s.GetTicket)
			r.Delete("/", s.DeleteTicket)
			r.Get("/next-states", s.NextStates)
			r.Post("/transitions", s.ApplyTransition)
			r.Post("/run", s.RunTicket)
			for _, fn := range s.nested {
				fn(r)
			}
		})
	})
}

type createRequest struct {
	Key           string            `json:"key"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	RepositoryURL string            `json:"repository_url"`
	Metadata      map[string]string `json:"metadata"`
	Run           bool              `json:"run"`
}

func (s *Server) CreateTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Key == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "key is required", nil)
		return
	}
	if req.Title == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "title is required", nil)
		return
	}

	now := time.Now()
	t := &Ticket{
		ID:            ulid.Make().String(),
		Key:           req.Key,
		Title:         req.Title,
		Description:   req.Description,
		RepositoryURL: req.RepositoryURL,
		State:         StateTriggered,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	if err := s.repo.Create(ctx, t); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Run {
		s.start(ctx, t.ID)
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, t)
}

type listResponse struct {
	Tickets []*Ticket `json:"tickets"`
	Total   int       `json:"total"`
}

func (s *Server) ListTickets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var state State
	if v := q.Get("state"); v != "" {
		st, err := ParseState(v)
		if err != nil {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, err.Error(), nil)
			return
		}
		state = st
	}
	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "limit must be a non-negative integer", err)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "offset must be a non-negative integer", err)
		return
	}

	tickets, total, err := s.repo.List(ctx, state, limit, offset)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if tickets == nil {
		tickets = []*Ticket{}
	}
	cerr.SetJSONResponse(ctx, listResponse{Tickets: tickets, Total: total})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative value")
	}
	return n, nil
}

func (s *Server) GetTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.repo.Get(ctx, chi.URLParam(r, "ticketID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) DeleteTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "ticketID")
	if err := s.repo.Delete(ctx, id); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	removed := 0
	if s.checkpoints != nil {
		n, err := s.checkpoints.DeleteAllForTicket(ctx, id)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		removed = n
	}
	s.publish(ctx, &eventbus.Event{
		Type:     eventbus.EventTicketDeleted,
		TicketID: id,
		Metadata: map[string]string{"checkpoints_removed": strconv.Itoa(removed)},
	})
	cerr.SetNoContent(ctx)
}

type nextStatesResponse struct {
	State      State   `json:"state"`
	NextStates []State `json:"next_states"`
}

func (s *Server) NextStates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.repo.Get(ctx, chi.URLParam(r, "ticketID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	next := s.transitions.ValidNextStates(t.State)
	if next == nil {
		next = []State{}
	}
	cerr.SetJSONResponse(ctx, nextStatesResponse{State: t.State, NextStates: next})
}

type transitionRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
	Run    bool   `json:"run"`
}

func (s *Server) ApplyTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	to, err := ParseState(req.To)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, err.Error(), nil)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual transition"
	}
	var from State
	t, err := Modify(ctx, s.repo, chi.URLParam(r, "ticketID"), func(t *Ticket) error {
		from = t.State
		return s.transitions.Apply(t, to, reason)
	})
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			cerr.SetJSONError(ctx, cerr.NewError(cerr.FailedPrecondition, te.Error(), nil))
			return
		}
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(ctx, &eventbus.Event{
		Type:     eventbus.EventTransitionApplied,
		TicketID: t.ID,
		Message:  reason,
		Metadata: map[string]string{"from": string(from), "to": string(to)},
	})
	if req.Run && !to.IsTerminal() {
		s.start(ctx, t.ID)
	}
	cerr.SetJSONResponse(ctx, t)
}

type runResponse struct {
	TicketID string `json:"ticket_id"`
	Started  bool   `json:"started"`
}

func (s *Server) RunTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.runner == nil {
		cerr.SetNewJSONError(ctx, cerr.Unimplemented, "runner is not configured", nil)
		return
	}
	t, err := s.repo.Get(ctx, chi.URLParam(r, "ticketID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if t.State.IsTerminal() {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "ticket is in terminal state "+t.State.String(), nil)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusAccepted, runResponse{
		TicketID: t.ID,
		Started:  s.start(ctx, t.ID),
	})
}

func (s *Server) start(ctx context.Context, ticketID string) bool {
	if s.runner == nil {
		return false
	}
	started := s.runner.Start(s.runCtx, ticketID)
	if !started {
		slog.InfoContext(ctx, "ticket is already running", "ticket_id", ticketID)
	}
	return started
}

func (s *Server) publish(ctx context.Context, ev *eventbus.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "failed to publish event", "ticket_id", ev.TicketID, "type", ev.Type, "error", err)
	}
}
