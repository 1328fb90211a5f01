package agent

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mikaelliljedahl/prfactory/internal/pipeline"
	"github.com/mikaelliljedahl/prfactory/internal/ticket"
)

// debounceInterval lets bursts of filesystem events settle before the agents
// file is re-read. Editors and deploy tools often write then rename.
const debounceInterval = 100 * time.Millisecond

type snapshot struct {
	agents   map[string]pipeline.Agent
	bindings map[ticket.State]pipeline.Binding
	hash     [sha256.Size]byte
}

// Registry resolves agents by name and bindings by state. The configuration
// is swapped atomically, so lookups never block on a reload.
type Registry struct {
	path        string
	transitions *ticket.TransitionTable
	current     atomic.Pointer[snapshot]
}

func NewRegistry(transitions *ticket.TransitionTable) *Registry {
	if transitions == nil {
		transitions = ticket.DefaultTransitions()
	}
	r := &Registry{transitions: transitions}
	r.current.Store(&snapshot{
		agents:   map[string]pipeline.Agent{},
		bindings: map[ticket.State]pipeline.Binding{},
	})
	return r
}

// Load reads the agents file at path and makes it current.
func (r *Registry) Load(path string) error {
	r.path = path
	_, err := r.reload()
	return err
}

// Apply makes an already parsed file current. Agents that are not scripted
// can be passed in extra; they override scripted agents of the same name.
func (r *Registry) Apply(f *File, extra ...pipeline.Agent) error {
	s, err := r.build(f, extra)
	if err != nil {
		return err
	}
	r.current.Store(s)
	return nil
}

func (r *Registry) build(f *File, extra []pipeline.Agent) (*snapshot, error) {
	s := &snapshot{
		agents:   make(map[string]pipeline.Agent, len(f.Agents)+len(extra)),
		bindings: make(map[ticket.State]pipeline.Binding, len(f.Bindings)),
	}
	for _, d := range f.Agents {
		a, err := NewShellAgent(d)
		if err != nil {
			return nil, err
		}
		s.agents[d.Name] = a
	}
	for _, a := range extra {
		s.agents[a.Name()] = a
	}
	for _, b := range f.Bindings {
		s.bindings[b.State] = b
	}
	return s, nil
}

func (r *Registry) reload() (bool, error) {
	h, err := hashFile(r.path)
	if err != nil {
		return false, err
	}
	if h == r.current.Load().hash {
		return false, nil
	}
	f, err := LoadFile(r.path, r.transitions)
	if err != nil {
		return false, err
	}
	s, err := r.build(f, nil)
	if err != nil {
		return false, err
	}
	s.hash = h
	r.current.Store(s)
	return true, nil
}

func (r *Registry) Agent(name string) (pipeline.Agent, bool) {
	a, ok := r.current.Load().agents[name]
	return a, ok
}

func (r *Registry) Binding(state ticket.State) (pipeline.Binding, bool) {
	b, ok := r.current.Load().bindings[state]
	return b, ok
}

// Bindings lists the current bindings in workflow order.
func (r *Registry) Bindings() []pipeline.Binding {
	cur := r.current.Load()
	out := make([]pipeline.Binding, 0, len(cur.bindings))
	for _, b := range cur.bindings {
		out = append(out, b)
	}
	order := make(map[ticket.State]int, len(ticket.AllStates))
	for i, s := range ticket.AllStates {
		order[s] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].State] < order[out[j].State] })
	return out
}

// Watch reloads the agents file whenever its content changes, until ctx is
// done. A file that fails to load is logged and the previous configuration
// stays in effect.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return fmt.Errorf("registry has no agents file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory so atomic replaces, which swap the inode, are seen
	dir, name := filepath.Dir(r.path), filepath.Base(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	slog.InfoContext(ctx, "watching agents file", "path", r.path)

	changed := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
		case <-changed:
			reloaded, err := r.reload()
			switch {
			case err != nil:
				slog.ErrorContext(ctx, "failed to reload agents file, keeping previous configuration", "path", r.path, "error", err)
			case reloaded:
				slog.InfoContext(ctx, "agents file reloaded", "path", r.path, "bindings", len(r.current.Load().bindings))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "fsnotify error", "error", err)
		}
	}
}

func hashFile(path string) ([sha256.Size]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("hash %s: %w", path, err)
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
