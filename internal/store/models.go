package store

// Message roles. The wire format of the chat endpoint and the persisted
// conversation log both use these values; gateway adapters translate them
// to whatever the underlying model API expects.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the durable per-session message log. Exactly two messages
// (user, then assistant) are appended per turn and the whole record is
// rewritten on save.
type Conversation struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

// ChunkMetadata describes where an evidence chunk came from.
type ChunkMetadata struct {
	SourceFile    string `json:"source_file"`
	SectionTitle  string `json:"section_title"`
	SectionNumber int    `json:"section_number"`
	ChunkIndex    int    `json:"chunk_index"`
	TotalChunks   int    `json:"total_chunks"`
	FileHash      string `json:"file_hash,omitempty"`
}

// EvidenceChunk is the unit of storage and retrieval. The ID is derived from
// source file, section and chunk offset, so re-ingesting unchanged content
// produces the same ID and upserts are idempotent.
type EvidenceChunk struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Metadata  ChunkMetadata `json:"metadata"`
	Embedding []float32     `json:"-"`
}
