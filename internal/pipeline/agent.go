package pipeline

import "context"

// Agent performs one workflow step. Expected failures may be reported either
// as an error or as a Failed result.
type Agent interface {
	Name() string
	Execute(ctx context.Context, actx *AgentContext) (*Result, error)
}

type agentFunc struct {
	name string
	fn   func(ctx context.Context, actx *AgentContext) (*Result, error)
}

// AgentFunc adapts a function to the Agent interface.
func AgentFunc(name string, fn func(ctx context.Context, actx *AgentContext) (*Result, error)) Agent {
	return &agentFunc{name: name, fn: fn}
}

func (a *agentFunc) Name() string { return a.name }

func (a *agentFunc) Execute(ctx context.Context, actx *AgentContext) (*Result, error) {
	return a.fn(ctx, actx)
}

// Resolver looks agents up by name.
type Resolver interface {
	Agent(name string) (Agent, bool)
}
