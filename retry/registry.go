package retry

import (
	"context"

	"github.com/inboundr/art-framer-sub005/models"
)

// Executor performs the side effect for one operation type. Implementations
// must be idempotent: the engine guarantees at-least-once invocation, not
// exactly-once.
type Executor interface {
	Execute(ctx context.Context, op models.RetryableOperation) Result
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, op models.RetryableOperation) Result

func (f ExecutorFunc) Execute(ctx context.Context, op models.RetryableOperation) Result {
	return f(ctx, op)
}

// Registry is the dispatch table from operation type to executor. It is
// populated once at startup and read-only afterwards.
type Registry struct {
	executors map[models.OperationType]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: map[models.OperationType]Executor{}}
}

func (r *Registry) Register(t models.OperationType, e Executor) {
	r.executors[t] = e
}

func (r *Registry) lookup(t models.OperationType) (Executor, bool) {
	e, ok := r.executors[t]
	return e, ok
}
