package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"

	"github.com/mikaelliljedahl/prfactory/internal/pipeline"
	"github.com/mikaelliljedahl/prfactory/internal/ticket"
)

// Dialect is the shell language an agent script is written in.
type Dialect string

const (
	DialectBash  Dialect = "bash"
	DialectPOSIX Dialect = "posix"
	DialectMkSH  Dialect = "mksh"
)

func (d Dialect) variant() (syntax.LangVariant, error) {
	switch d {
	case "", DialectBash:
		return syntax.LangBash, nil
	case DialectPOSIX:
		return syntax.LangPOSIX, nil
	case DialectMkSH:
		return syntax.LangMirBSDKorn, nil
	default:
		return 0, fmt.Errorf("unknown shell dialect %q", d)
	}
}

// Definition describes one scripted agent.
type Definition struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Shell       Dialect           `yaml:"shell"`
	Script      string            `yaml:"script"`
	Timeout     time.Duration     `yaml:"timeout"`
	WorkDir     string            `yaml:"work_dir"`
	Env         map[string]string `yaml:"env"`
}

// File is the agents file: agent definitions plus the state bindings that
// decide which agent works a ticket in each state.
type File struct {
	Agents   []Definition       `yaml:"agents"`
	Bindings []pipeline.Binding `yaml:"bindings"`
}

// LoadFile reads and validates an agents file.
func LoadFile(path string, transitions *ticket.TransitionTable) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return Parse(data, transitions)
}

func Parse(data []byte, transitions *ticket.TransitionTable) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	if err := f.Validate(transitions); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports every problem in f at once.
func (f *File) Validate(transitions *ticket.TransitionTable) error {
	if transitions == nil {
		transitions = ticket.DefaultTransitions()
	}
	var errs []error
	names := make(map[string]bool, len(f.Agents))
	for i, d := range f.Agents {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Errorf("agents[%d]: name is required", i))
		case names[d.Name]:
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate agent %q", i, d.Name))
		}
		names[d.Name] = true
		if strings.TrimSpace(d.Script) == "" {
			errs = append(errs, fmt.Errorf("agent %q: script is required", d.Name))
			continue
		}
		if d.Timeout < 0 {
			errs = append(errs, fmt.Errorf("agent %q: timeout must not be negative", d.Name))
		}
		if _, err := parseScript(d); err != nil {
			errs = append(errs, fmt.Errorf("agent %q: %w", d.Name, err))
		}
	}

	bound := make(map[ticket.State]bool, len(f.Bindings))
	for i, b := range f.Bindings {
		if _, err := ticket.ParseState(string(b.State)); err != nil {
			errs = append(errs, fmt.Errorf("bindings[%d]: %w", i, err))
			continue
		}
		if b.State.IsTerminal() {
			errs = append(errs, fmt.Errorf("bindings[%d]: terminal state %s cannot be bound", i, b.State))
		}
		if bound[b.State] {
			errs = append(errs, fmt.Errorf("bindings[%d]: state %s is bound twice", i, b.State))
		}
		bound[b.State] = true
		if !names[b.Agent] {
			errs = append(errs, fmt.Errorf("bindings[%d]: unknown agent %q", i, b.Agent))
		}
		if b.Next != "" && !transitions.CanTransition(b.State, b.Next) {
			errs = append(errs, fmt.Errorf("bindings[%d]: %s is not a valid successor of %s", i, b.Next, b.State))
		}
	}
	return errors.Join(errs...)
}

func parseScript(d Definition) (*syntax.File, error) {
	lang, err := d.Shell.variant()
	if err != nil {
		return nil, err
	}
	file, err := syntax.NewParser(syntax.Variant(lang)).Parse(strings.NewReader(d.Script), d.Name)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return file, nil
}
