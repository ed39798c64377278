package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ChromaStore is a minimal REST client for a Chroma server, usable as an
// evidence store when the corpus lives outside the local SQLite file. It
// creates the collection on first use.
type ChromaStore struct {
	baseURL      string
	collection   string
	collectionID string
	client       *http.Client
}

type ChromaConfig struct {
	URL        string
	Collection string
	Timeout    time.Duration
}

func NewChromaStore(ctx context.Context, cfg ChromaConfig) (*ChromaStore, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s := &ChromaStore{
		baseURL:    cfg.URL,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChromaStore) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"name":          s.collection,
		"get_or_create": true,
		"metadata":      map[string]any{"description": "Acme HR documents and policies"},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.postJSON(ctx, "/api/v1/collections", body, &resp); err != nil {
		return goerr.Wrap(err, "failed to get or create collection", goerr.V("collection", s.collection))
	}
	if resp.ID == "" {
		return goerr.New("chroma returned no collection id", goerr.V("collection", s.collection))
	}
	s.collectionID = resp.ID
	return nil
}

// UpsertChunk writes one chunk keyed by its stable ID.
func (s *ChromaStore) UpsertChunk(ctx context.Context, chunk EvidenceChunk) error {
	body := map[string]any{
		"ids":        []string{chunk.ID},
		"embeddings": [][]float32{chunk.Embedding},
		"documents":  []string{chunk.Text},
		"metadatas": []map[string]any{{
			"source_file":    chunk.Metadata.SourceFile,
			"section_title":  chunk.Metadata.SectionTitle,
			"section_number": chunk.Metadata.SectionNumber,
			"chunk_index":    chunk.Metadata.ChunkIndex,
			"total_chunks":   chunk.Metadata.TotalChunks,
			"file_hash":      chunk.Metadata.FileHash,
		}},
	}
	path := fmt.Sprintf("/api/v1/collections/%s/upsert", s.collectionID)
	if err := s.postJSON(ctx, path, body, nil); err != nil {
		return goerr.Wrap(err, "chroma upsert failed", goerr.V("chunk_id", chunk.ID))
	}
	return nil
}

// Query runs a ranked similarity query. A non-empty queryText is forwarded
// alongside the embedding so the server applies its keyword signal.
func (s *ChromaStore) Query(ctx context.Context, embedding []float32, queryText string, k int) ([]EvidenceChunk, error) {
	if k <= 0 {
		return nil, goerr.New("k must be positive", goerr.V("k", k))
	}

	body := map[string]any{
		"query_embeddings": [][]float32{embedding},
		"n_results":        k,
		"include":          []string{"documents", "metadatas"},
	}
	if queryText != "" {
		body["query_texts"] = []string{queryText}
	}

	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/query", s.collectionID)
	if err := s.postJSON(ctx, path, body, &resp); err != nil {
		return nil, goerr.Wrap(err, "chroma query failed")
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	results := make([]EvidenceChunk, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		chunk := EvidenceChunk{ID: id}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			chunk.Text = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			chunk.Metadata = metadataFromPayload(resp.Metadatas[0][i])
		}
		results = append(results, chunk)
	}
	return results, nil
}

func metadataFromPayload(payload map[string]any) ChunkMetadata {
	var md ChunkMetadata
	if v, ok := payload["source_file"].(string); ok {
		md.SourceFile = v
	}
	if v, ok := payload["section_title"].(string); ok {
		md.SectionTitle = v
	}
	if v, ok := payload["section_number"].(float64); ok {
		md.SectionNumber = int(v)
	}
	if v, ok := payload["chunk_index"].(float64); ok {
		md.ChunkIndex = int(v)
	}
	if v, ok := payload["total_chunks"].(float64); ok {
		md.TotalChunks = int(v)
	}
	if v, ok := payload["file_hash"].(string); ok {
		md.FileHash = v
	}
	return md
}

func (s *ChromaStore) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return goerr.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "chroma request failed", goerr.V("path", path))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return goerr.New("chroma request rejected",
			goerr.V("path", path), goerr.V("status", resp.Status))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return goerr.Wrap(err, "failed to decode chroma response", goerr.V("path", path))
		}
	}
	return nil
}
