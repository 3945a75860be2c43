// Package agent defines the boundary to the local agent runtime. The core
// never evaluates a prompt itself; it hands the prompt and rehydrated deps
// to whatever sits behind this interface.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/paigeant/paigeant/common/contracts"
)

// RunResult is what an agent hands back to the worker. AddedActivities may
// name follow-up steps drawn from the envelope's activity registry; the
// worker validates and caps them.
type RunResult struct {
	Output          any
	AddedActivities []contracts.ActivitySpec
}

// Agent runs one activity.
type Agent interface {
	Run(ctx context.Context, prompt string, deps any) (*RunResult, error)
}

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, prompt string, deps any) (*RunResult, error)

func (f Func) Run(ctx context.Context, prompt string, deps any) (*RunResult, error) {
	return f(ctx, prompt, deps)
}

// Resolver locates the local agent implementation for an agent name.
type Resolver interface {
	Resolve(agentName string) (Agent, error)
}

// Registry is the stock resolver: an explicit name-to-agent map.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register binds an agent to a name, replacing any previous binding.
func (r *Registry) Register(name string, a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = a
}

// Resolve returns the agent registered under name.
func (r *Registry) Resolve(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("no agent registered for %q", name)
	}
	return a, nil
}
