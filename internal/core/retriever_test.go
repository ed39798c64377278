package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acme.com/hr-assistant/internal/store"
)

type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return vectors, nil
}

func chunk(id string) store.EvidenceChunk {
	return store.EvidenceChunk{ID: id, Text: "text of " + id,
		Metadata: store.ChunkMetadata{SectionTitle: "Section " + id}}
}

// scriptedStore keys both signals by sub-query text. Semantic calls carry no
// text, so they are routed by the embedding the mock embedder produced.
type scriptedStore struct {
	mu      sync.Mutex
	bySub   map[string]struct{ semantic, lexical []store.EvidenceChunk }
	failSub map[string]bool
}

func (s *scriptedStore) Query(ctx context.Context, embedding []float32, queryText string, k int) ([]store.EvidenceChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if queryText != "" {
		if s.failSub[queryText] {
			return nil, errors.New("store unavailable")
		}
		res := s.bySub[queryText].lexical
		if len(res) > k {
			res = res[:k]
		}
		return res, nil
	}
	// Semantic calls carry no text; identify the sub-query by embedding:
	// the mock embedder encodes the text length in the first component.
	for sub, results := range s.bySub {
		if float32(len(sub)) == embedding[0] {
			if s.failSub[sub] {
				return nil, errors.New("store unavailable")
			}
			res := results.semantic
			if len(res) > k {
				res = res[:k]
			}
			return res, nil
		}
	}
	return nil, nil
}

func TestRetrieveFusesInSubmissionOrder(t *testing.T) {
	evidence := &scriptedStore{bySub: map[string]struct{ semantic, lexical []store.EvidenceChunk }{
		"first?":   {semantic: []store.EvidenceChunk{chunk("a"), chunk("b")}, lexical: []store.EvidenceChunk{chunk("c")}},
		"second??": {semantic: []store.EvidenceChunk{chunk("d")}, lexical: []store.EvidenceChunk{chunk("e")}},
	}}
	r := NewRetriever(&mockEmbedder{}, evidence, RetrieverOptions{SemanticK: 5, LexicalK: 1})

	got := r.Retrieve(context.Background(), []string{"first?", "second??"})

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	// earlier sub-query first, semantic before lexical within a sub-query
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
}

func TestRetrieveDeduplicatesByChunkID(t *testing.T) {
	evidence := &scriptedStore{bySub: map[string]struct{ semantic, lexical []store.EvidenceChunk }{
		"first?":   {semantic: []store.EvidenceChunk{chunk("a"), chunk("shared")}},
		"second??": {semantic: []store.EvidenceChunk{chunk("shared"), chunk("z")}},
	}}
	r := NewRetriever(&mockEmbedder{}, evidence, RetrieverOptions{})

	got := r.Retrieve(context.Background(), []string{"first?", "second??"})

	ids := make([]string, len(got))
	seen := make(map[string]int)
	for i, c := range got {
		ids[i] = c.ID
		seen[c.ID]++
	}
	assert.Equal(t, []string{"a", "shared", "z"}, ids)
	for id, n := range seen {
		assert.Equal(t, 1, n, "chunk %s appears more than once", id)
	}
}

func TestRetrievePartialFailureContributesNothing(t *testing.T) {
	evidence := &scriptedStore{
		bySub: map[string]struct{ semantic, lexical []store.EvidenceChunk }{
			"first?":   {semantic: []store.EvidenceChunk{chunk("a")}},
			"second??": {semantic: []store.EvidenceChunk{chunk("b")}},
		},
		failSub: map[string]bool{"second??": true},
	}
	r := NewRetriever(&mockEmbedder{}, evidence, RetrieverOptions{})

	got := r.Retrieve(context.Background(), []string{"first?", "second??"})

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestRetrieveEmbeddingFailureYieldsEmptyEvidence(t *testing.T) {
	evidence := &scriptedStore{bySub: map[string]struct{ semantic, lexical []store.EvidenceChunk }{}}
	r := NewRetriever(&mockEmbedder{err: errors.New("embedding service down")}, evidence, RetrieverOptions{})

	got := r.Retrieve(context.Background(), []string{"first?"})

	assert.Empty(t, got) // empty evidence is valid, never an error
}

func TestFuseKeepsFirstOccurrence(t *testing.T) {
	fused := fuse([][]store.EvidenceChunk{
		{chunk("x"), chunk("y")},
		{chunk("y"), chunk("x"), chunk("w")},
	})
	ids := make([]string, len(fused))
	for i, c := range fused {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"x", "y", "w"}, ids)
}
