package pipeline

import (
	"context"

	"github.com/parapet-labs/parapet/pkg/broker"
	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/sandbox"
)

// Outcome is what the executor reports back for a dispatched action.
type Outcome struct {
	Status string // "success", "error", executor-defined
	Detail string
}

// Executor runs one authorized action inside the declared boundary. The
// implementation lives outside this core (container, VM, remote agent);
// it must honor the contract and the context deadline.
type Executor interface {
	Execute(ctx context.Context, action contracts.ToolAction, cred broker.UpstreamCredential, boundary sandbox.Contract) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, action contracts.ToolAction, cred broker.UpstreamCredential, boundary sandbox.Contract) (Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, action contracts.ToolAction, cred broker.UpstreamCredential, boundary sandbox.Contract) (Outcome, error) {
	return f(ctx, action, cred, boundary)
}
