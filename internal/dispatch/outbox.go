package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bellmanlabs/bellman/internal/fileio"
	"github.com/bellmanlabs/bellman/internal/model"
)

// OutboxDispatcher hands commands to the external executor through the
// filesystem: each command is written atomically to the outbox directory,
// where the executor process picks it up. A successful write is a successful
// delivery; the executor's own idempotency on executionId covers duplicate
// handoffs.
type OutboxDispatcher struct {
	dir string
	now func() time.Time
}

func NewOutboxDispatcher(dir string) (*OutboxDispatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	return &OutboxDispatcher{
		dir: dir,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (o *OutboxDispatcher) Dispatch(_ context.Context, cmd model.Command) (model.ResultEvent, error) {
	path := filepath.Join(o.dir, cmd.ExecutionID+".json")
	if err := fileio.AtomicWriteJSON(path, cmd); err != nil {
		return model.ResultEvent{}, &model.DispatchError{
			Code: "UNAVAILABLE",
			Err:  fmt.Errorf("write outbox file: %w", err),
		}
	}
	return model.ResultEvent{
		EventID:       model.NewID(model.IDTypeEvent),
		EventType:     model.EventCommandSucceeded,
		ExecutionID:   cmd.ExecutionID,
		TenantID:      cmd.TenantID,
		CorrelationID: cmd.CorrelationID,
		EmittedAt:     o.now(),
		Status:        model.ResultSucceeded,
		Payload:       map[string]any{"outboxFile": path},
	}, nil
}
