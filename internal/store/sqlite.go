package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore backs both the conversation session store and the evidence
// store. Evidence chunks are cached in memory for the semantic cosine scan;
// the lexical signal comes from an FTS5 table ranked by bm25() when the
// driver was built with FTS5 (-tags sqlite_fts5), and from a token scan over
// the chunk cache otherwise.
type SQLiteStore struct {
	db         *sql.DB
	ftsEnabled bool

	mu     sync.RWMutex
	chunks []EvidenceChunk
	byID   map[string]int
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("dsn", dataSourceName))
	}
	if err = db.Ping(); err != nil {
		return nil, goerr.Wrap(err, "failed to ping database")
	}

	s := &SQLiteStore{db: db, byID: make(map[string]int)}
	if err = s.initSchema(); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize schema")
	}
	if err = s.loadChunkCache(); err != nil {
		return nil, goerr.Wrap(err, "failed to load evidence chunks")
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sessions (
        session_id TEXT PRIMARY KEY,
        messages_json TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS evidence_chunks (
        id TEXT PRIMARY KEY,
        content TEXT NOT NULL,
        source_file TEXT NOT NULL,
        section_title TEXT NOT NULL,
        section_number INTEGER NOT NULL,
        chunk_index INTEGER NOT NULL,
        total_chunks INTEGER NOT NULL,
        file_hash TEXT,
        embedding_json TEXT -- JSON-encoded []float32
    );
    `
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 is only compiled into mattn/go-sqlite3 behind the sqlite_fts5
	// build tag. Without it the lexical signal degrades to a token scan over
	// the chunk cache instead of failing startup.
	_, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS evidence_fts USING fts5(chunk_id UNINDEXED, content)")
	s.ftsEnabled = err == nil
	return nil
}

// LoadConversation returns the conversation for a session, or a fresh empty
// one when the session has never been persisted.
func (s *SQLiteStore) LoadConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	var messagesJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT messages_json FROM sessions WHERE session_id = ?", sessionID).Scan(&messagesJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return &Conversation{SessionID: sessionID}, nil
		}
		return nil, goerr.Wrap(err, "failed to query session", goerr.V("session_id", sessionID))
	}

	conv := &Conversation{SessionID: sessionID}
	if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
		return nil, goerr.Wrap(err, "corrupted session record", goerr.V("session_id", sessionID))
	}
	return conv, nil
}

// SaveConversation overwrites the full session record.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal messages")
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO sessions (session_id, messages_json, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET
            messages_json = excluded.messages_json,
            updated_at = excluded.updated_at`,
		conv.SessionID, string(messagesJSON), time.Now())
	if err != nil {
		return goerr.Wrap(err, "failed to save session", goerr.V("session_id", conv.SessionID))
	}
	return nil
}

// UpsertChunk writes a chunk keyed by its stable ID. Re-ingesting identical
// content overwrites in place; it never duplicates.
func (s *SQLiteStore) UpsertChunk(ctx context.Context, chunk EvidenceChunk) error {
	embeddingJSON, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal embedding", goerr.V("chunk_id", chunk.ID))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO evidence_chunks
            (id, content, source_file, section_title, section_number, chunk_index, total_chunks, file_hash, embedding_json)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            content = excluded.content,
            source_file = excluded.source_file,
            section_title = excluded.section_title,
            section_number = excluded.section_number,
            chunk_index = excluded.chunk_index,
            total_chunks = excluded.total_chunks,
            file_hash = excluded.file_hash,
            embedding_json = excluded.embedding_json`,
		chunk.ID, chunk.Text, chunk.Metadata.SourceFile, chunk.Metadata.SectionTitle,
		chunk.Metadata.SectionNumber, chunk.Metadata.ChunkIndex, chunk.Metadata.TotalChunks,
		chunk.Metadata.FileHash, string(embeddingJSON))
	if err != nil {
		return goerr.Wrap(err, "failed to upsert chunk", goerr.V("chunk_id", chunk.ID))
	}

	// FTS5 has no upsert; replace the row wholesale.
	if s.ftsEnabled {
		if _, err = tx.ExecContext(ctx, "DELETE FROM evidence_fts WHERE chunk_id = ?", chunk.ID); err != nil {
			return goerr.Wrap(err, "failed to clear fts row", goerr.V("chunk_id", chunk.ID))
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO evidence_fts (chunk_id, content) VALUES (?, ?)",
			chunk.ID, chunk.Text); err != nil {
			return goerr.Wrap(err, "failed to index chunk", goerr.V("chunk_id", chunk.ID))
		}
	}

	if err = tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit chunk upsert")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.byID[chunk.ID]; ok {
		s.chunks[i] = chunk
	} else {
		s.byID[chunk.ID] = len(s.chunks)
		s.chunks = append(s.chunks, chunk)
	}
	return nil
}

// CountChunks reports the number of cached evidence chunks.
func (s *SQLiteStore) CountChunks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Query returns the top-k chunks ranked best-first. An empty queryText asks
// for semantic nearest neighbors by cosine similarity; a non-empty one asks
// for lexical matches ranked by bm25.
func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, queryText string, k int) ([]EvidenceChunk, error) {
	if k <= 0 {
		return nil, goerr.New("k must be positive", goerr.V("k", k))
	}
	if queryText != "" {
		return s.queryLexical(ctx, queryText, k)
	}
	return s.querySemantic(embedding, k)
}

func (s *SQLiteStore) querySemantic(embedding []float32, k int) ([]EvidenceChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		chunk EvidenceChunk
		score float32
	}
	candidates := make([]scored, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		score, err := CosineSimilarity(embedding, chunk.Embedding)
		if err != nil {
			continue // dimension mismatch from an older model, skip
		}
		candidates = append(candidates, scored{chunk: chunk, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	results := make([]EvidenceChunk, len(candidates))
	for i, c := range candidates {
		results[i] = c.chunk
	}
	return results, nil
}

func (s *SQLiteStore) queryLexical(ctx context.Context, queryText string, k int) ([]EvidenceChunk, error) {
	if !s.ftsEnabled {
		return s.scanLexical(queryText, k), nil
	}

	match := ftsMatchExpr(queryText)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT chunk_id FROM evidence_fts WHERE evidence_fts MATCH ? ORDER BY rank LIMIT ?",
		match, k)
	if err != nil {
		return nil, goerr.Wrap(err, "fts query failed", goerr.V("match", match))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerr.Wrap(err, "failed to scan fts row")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "fts row iteration failed")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []EvidenceChunk
	for _, id := range ids {
		if i, ok := s.byID[id]; ok {
			results = append(results, s.chunks[i])
		}
	}
	return results, nil
}

// scanLexical is the lexical path when FTS5 is unavailable: rank cached
// chunks by how many distinct query words their text contains. Coarser than
// bm25 but keeps the dual-signal retrieval working on a default build.
func (s *SQLiteStore) scanLexical(queryText string, k int) []EvidenceChunk {
	words := queryWords(queryText)
	if len(words) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		chunk EvidenceChunk
		score int
	}
	var candidates []scored
	for _, chunk := range s.chunks {
		text := strings.ToLower(chunk.Text)
		score := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{chunk: chunk, score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	results := make([]EvidenceChunk, len(candidates))
	for i, c := range candidates {
		results[i] = c.chunk
	}
	return results
}

// ftsMatchExpr turns free text into a safe FTS5 MATCH expression: each word
// quoted, OR-joined. Punctuation in raw questions would otherwise be parsed
// as FTS syntax.
func ftsMatchExpr(queryText string) string {
	words := queryWords(queryText)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func queryWords(queryText string) []string {
	return strings.FieldsFunc(strings.ToLower(queryText), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func (s *SQLiteStore) loadChunkCache() error {
	rows, err := s.db.Query(`
        SELECT id, content, source_file, section_title, section_number, chunk_index, total_chunks, file_hash, embedding_json
        FROM evidence_chunks`)
	if err != nil {
		return goerr.Wrap(err, "failed to query evidence_chunks")
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.byID = make(map[string]int)
	for rows.Next() {
		var chunk EvidenceChunk
		var fileHash sql.NullString
		var embeddingJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Text, &chunk.Metadata.SourceFile,
			&chunk.Metadata.SectionTitle, &chunk.Metadata.SectionNumber,
			&chunk.Metadata.ChunkIndex, &chunk.Metadata.TotalChunks,
			&fileHash, &embeddingJSON); err != nil {
			return goerr.Wrap(err, "failed to scan chunk row")
		}
		chunk.Metadata.FileHash = fileHash.String
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				// A chunk with no embedding is skipped by the semantic scan
				// but still reachable lexically.
				chunk.Embedding = nil
			}
		}
		s.byID[chunk.ID] = len(s.chunks)
		s.chunks = append(s.chunks, chunk)
	}
	return rows.Err()
}
