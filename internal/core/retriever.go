package core

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"acme.com/hr-assistant/internal/logging"
	"acme.com/hr-assistant/internal/store"
)

// RetrieverOptions carries the tunable retrieval parameters. SemanticWeight,
// BM25Weight and RerankerModel are accepted for a future weighted-score
// fusion or reranking pass; the shipped fusion is the ordered union below.
type RetrieverOptions struct {
	SemanticK      int
	LexicalK       int
	SemanticWeight float64
	BM25Weight     float64
	RerankerModel  string
}

// Retriever resolves sub-queries into a fused, deduplicated evidence list
// using two signals per sub-query: semantic nearest neighbors and a sparser,
// higher-precision lexical match.
type Retriever struct {
	embedder EmbeddingClient
	evidence EvidenceStore
	opts     RetrieverOptions
}

func NewRetriever(embedder EmbeddingClient, evidence EvidenceStore, opts RetrieverOptions) *Retriever {
	if opts.SemanticK <= 0 {
		opts.SemanticK = 5
	}
	if opts.LexicalK <= 0 {
		opts.LexicalK = 1
	}
	return &Retriever{embedder: embedder, evidence: evidence, opts: opts}
}

// Retrieve fetches evidence for each sub-query concurrently and fuses the
// results. A sub-query whose embedding or store lookup fails contributes no
// evidence; partial evidence beats no answer. The fused order depends only
// on sub-query submission order, never on completion order.
func (r *Retriever) Retrieve(ctx context.Context, subQueries []string) []store.EvidenceChunk {
	perQuery := make([][]store.EvidenceChunk, len(subQueries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range subQueries {
		g.Go(func() error {
			chunks, err := r.retrieveOne(gctx, q)
			if err != nil {
				logging.From(ctx).Warn("retrieval failed for sub-query, skipping",
					"sub_query", q, "error", err)
				return nil
			}
			perQuery[i] = chunks
			return nil
		})
	}
	_ = g.Wait() // workers never return errors, failures degrade per-slot

	return fuse(perQuery)
}

// retrieveOne embeds one sub-query and asks the store for both signals.
// Semantic candidates precede lexical ones in the returned slice.
func (r *Retriever) retrieveOne(ctx context.Context, subQuery string) ([]store.EvidenceChunk, error) {
	vectors, err := r.embedder.Embed(ctx, []string{subQuery})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed sub-query", goerr.T(TagService))
	}
	if len(vectors) == 0 {
		return nil, goerr.New("embedding gateway returned no vectors", goerr.T(TagService))
	}
	embedding := vectors[0]

	semantic, err := r.evidence.Query(ctx, embedding, "", r.opts.SemanticK)
	if err != nil {
		return nil, goerr.Wrap(err, "semantic query failed", goerr.T(TagService))
	}

	lexical, err := r.evidence.Query(ctx, embedding, subQuery, r.opts.LexicalK)
	if err != nil {
		return nil, goerr.Wrap(err, "lexical query failed", goerr.T(TagService))
	}

	return append(semantic, lexical...), nil
}

// fuse concatenates per-sub-query candidate lists in submission order and
// drops duplicate chunk IDs, keeping the first occurrence. An empty result
// is valid; the prompt assembler handles it.
func fuse(perQuery [][]store.EvidenceChunk) []store.EvidenceChunk {
	seen := make(map[string]bool)
	var fused []store.EvidenceChunk
	for _, chunks := range perQuery {
		for _, chunk := range chunks {
			if seen[chunk.ID] {
				continue
			}
			seen[chunk.ID] = true
			fused = append(fused, chunk)
		}
	}
	return fused
}
