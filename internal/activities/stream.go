package activities

import (
	"context"

	"github.com/weftlabs/weft/internal/streaming"
)

// EmitProgress publishes one event to the in-process stream. Publishing is
// best-effort: sequence numbers come from the manager, and slow consumers
// fall back to ring-buffer replay.
func (a *Activities) EmitProgress(ctx context.Context, in EmitProgressInput) error {
	if a.stream == nil {
		return nil
	}
	a.stream.Publish(in.ExecutionID, streaming.Event{
		ExecutionID: in.ExecutionID,
		Type:        streaming.EventType(in.EventType),
		StageID:     in.StageID,
		Attempt:     in.Attempt,
		Message:     in.Message,
		Timestamp:   in.Timestamp,
	})
	return nil
}
