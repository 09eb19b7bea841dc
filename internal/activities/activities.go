// Package activities holds the Temporal activity implementations backing
// the pipeline workflow: retrieval passes, stage agent execution, event
// emission, and history persistence.
package activities

import (
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/db"
	"github.com/weftlabs/weft/internal/fusion"
	"github.com/weftlabs/weft/internal/llm"
	"github.com/weftlabs/weft/internal/retrieval"
	"github.com/weftlabs/weft/internal/streaming"
	"github.com/weftlabs/weft/internal/vectorstore"
)

// Activities bundles the service clients used by activity methods. A nil
// history client disables persistence activities gracefully; everything
// else is required.
type Activities struct {
	agent   *retrieval.Agent
	fuser   *fusion.Fuser
	llm     *llm.Client
	store   *vectorstore.Client
	history *db.Client
	stream  *streaming.Manager
	logger  *zap.Logger
}

func New(agent *retrieval.Agent, fuser *fusion.Fuser, llmClient *llm.Client, store *vectorstore.Client, history *db.Client, stream *streaming.Manager, logger *zap.Logger) *Activities {
	return &Activities{
		agent:   agent,
		fuser:   fuser,
		llm:     llmClient,
		store:   store,
		history: history,
		stream:  stream,
		logger:  logger,
	}
}
