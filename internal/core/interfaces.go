// Package core implements the query processing pipeline: two-stage query
// rewriting, hybrid retrieval with ordered-union fusion, prompt assembly,
// and the per-turn orchestration that ties them together.
package core

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"acme.com/hr-assistant/internal/store"
)

// Error tags classify failures so callers can branch on them explicitly
// instead of catching everything. TagService marks external-service
// failures, TagParse marks malformed model output.
var (
	TagService = goerr.NewTag("service")
	TagParse   = goerr.NewTag("parse")
)

// GenParams are the generation settings passed through to the chat
// completion gateway unchanged.
type GenParams struct {
	Temperature float32
	MaxTokens   int32
	TopP        float32
}

// ChatClient sends an ordered message sequence to a language model and
// returns the generated text.
type ChatClient interface {
	Complete(ctx context.Context, messages []store.Message, params GenParams) (string, error)
}

// EmbeddingClient converts texts to fixed-dimension vectors. It fails if
// texts is empty.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EvidenceStore answers ranked similarity queries over the ingested corpus.
// A non-empty queryText requests the lexical/keyword signal; an empty one
// requests semantic nearest neighbors. Results are ordered best-first.
type EvidenceStore interface {
	Query(ctx context.Context, embedding []float32, queryText string, k int) ([]store.EvidenceChunk, error)
}

// SessionStore is the durable conversation log, read before and written
// after each turn. Loading an unknown session returns a fresh empty
// conversation; saving overwrites the full record.
type SessionStore interface {
	LoadConversation(ctx context.Context, sessionID string) (*store.Conversation, error)
	SaveConversation(ctx context.Context, conv *store.Conversation) error
}
