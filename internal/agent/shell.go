package agent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/mikaelliljedahl/prfactory/internal/pipeline"
	"github.com/mikaelliljedahl/prfactory/internal/ticket"
)

// Directives a script writes to stdout to talk back to the pipeline.
const (
	directiveOutput  = "::output "
	directiveNext    = "::next "
	directiveSuspend = "::suspend"
	directiveFail    = "::fail "
)

// stderrTail is how much of stderr is kept as error details.
const stderrTail = 4096

// ShellAgent runs a script in an in-process shell interpreter.
//
// The script sees the ticket as PRFACTORY_* environment variables and the
// state bag as PRFACTORY_STATE_<KEY>. Lines on stdout starting with a
// directive are interpreted:
//
//	::output key=value   store value in the result output and the state bag
//	::next State         override the binding's successor state
//	::suspend            finish the step and wait for an external actor
//	::fail message       fail the step with message
type ShellAgent struct {
	def  Definition
	file *syntax.File
}

func NewShellAgent(def Definition) (*ShellAgent, error) {
	file, err := parseScript(def)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", def.Name, err)
	}
	return &ShellAgent{def: def, file: file}, nil
}

func (a *ShellAgent) Name() string { return a.def.Name }

func (a *ShellAgent) Definition() Definition { return a.def }

func (a *ShellAgent) Execute(ctx context.Context, actx *pipeline.AgentContext) (*pipeline.Result, error) {
	if a.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.def.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	opts := []interp.RunnerOption{
		interp.StdIO(nil, &stdout, &stderr),
		interp.Env(expand.ListEnviron(a.environ(actx)...)),
	}
	if a.def.WorkDir != "" {
		opts = append(opts, interp.Dir(a.def.WorkDir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create shell runner: %w", err)
	}

	runErr := runner.Run(ctx, a.file)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	res := a.interpret(&stdout, actx)
	if runErr != nil {
		var status interp.ExitStatus
		if !errors.As(runErr, &status) {
			return nil, fmt.Errorf("run agent script: %w", runErr)
		}
		msg := lastLine(stderr.String())
		if msg == "" {
			msg = "no output on stderr"
		}
		res = pipeline.Failed(fmt.Sprintf("agent %s exited with status %d: %s", a.def.Name, uint8(status), msg))
	}
	if res.Status == pipeline.StatusFailed {
		res.ErrorDetails = tail(stderr.String(), stderrTail)
	}
	return res, nil
}

func (a *ShellAgent) interpret(stdout *bytes.Buffer, actx *pipeline.AgentContext) *pipeline.Result {
	output := make(map[string]any)
	var (
		next      ticket.State
		suspended bool
		failure   string
	)
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, directiveOutput):
			k, v, ok := strings.Cut(strings.TrimPrefix(line, directiveOutput), "=")
			if k = strings.TrimSpace(k); ok && k != "" {
				output[k] = v
				actx.Set(k, v)
			}
		case strings.HasPrefix(line, directiveNext):
			next = ticket.State(strings.TrimSpace(strings.TrimPrefix(line, directiveNext)))
		case line == directiveSuspend:
			suspended = true
		case strings.HasPrefix(line, directiveFail):
			failure = strings.TrimSpace(strings.TrimPrefix(line, directiveFail))
		}
	}

	if failure != "" {
		return pipeline.Failed(failure)
	}
	if next != "" {
		if _, err := ticket.ParseState(string(next)); err != nil {
			return pipeline.Failed(fmt.Sprintf("agent %s requested invalid next state %q", a.def.Name, next))
		}
	}
	res := pipeline.Completed(output)
	if suspended {
		res = pipeline.Suspended(output)
	}
	res.NextState = next
	return res
}

func (a *ShellAgent) environ(actx *pipeline.AgentContext) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"PRFACTORY_AGENT=" + a.def.Name,
		"PRFACTORY_ATTEMPT=" + strconv.Itoa(actx.Attempt),
	}
	if actx.ResumedFrom != "" {
		env = append(env, "PRFACTORY_RESUMED_FROM="+actx.ResumedFrom)
	}
	if t := actx.Ticket; t != nil {
		env = append(env,
			"PRFACTORY_TICKET_ID="+t.ID,
			"PRFACTORY_TICKET_KEY="+t.Key,
			"PRFACTORY_TICKET_TITLE="+t.Title,
			"PRFACTORY_TICKET_DESCRIPTION="+t.Description,
			"PRFACTORY_TICKET_STATE="+string(t.State),
			"PRFACTORY_REPOSITORY_URL="+t.RepositoryURL,
			"PRFACTORY_RETRY_COUNT="+strconv.Itoa(t.RetryCount),
		)
	}

	keys := make([]string, 0, len(actx.State))
	for k := range actx.State {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, "PRFACTORY_STATE_"+envName(k)+"="+fmt.Sprint(actx.State[k]))
	}
	for k, v := range a.def.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func envName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
