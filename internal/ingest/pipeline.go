package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"acme.com/hr-assistant/internal/core"
	"acme.com/hr-assistant/internal/logging"
	"acme.com/hr-assistant/internal/store"
)

// Upserter is the slice of the evidence store the pipeline needs: idempotent
// writes keyed by stable chunk ID.
type Upserter interface {
	UpsertChunk(ctx context.Context, chunk store.EvidenceChunk) error
}

// Pipeline processes every pending document: chunk, embed, upsert, then move
// the file out of the pending directory. Embedding and upserting run in a
// bounded worker pool with per-chunk retry.
type Pipeline struct {
	chunker  *Chunker
	embedder core.EmbeddingClient
	evidence Upserter

	supportingDir string
	processedDir  string
	concurrency   int
	retries       int
}

type PipelineConfig struct {
	SupportingDir string
	ProcessedDir  string
	ChunkSize     int
	ChunkOverlap  int
	Concurrency   int
	Retries       int
}

// Stats summarizes one pipeline run.
type Stats struct {
	FilesProcessed int
	ChunksStored   int
}

func NewPipeline(embedder core.EmbeddingClient, evidence Upserter, cfg PipelineConfig) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Pipeline{
		chunker:       NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder:      embedder,
		evidence:      evidence,
		supportingDir: cfg.SupportingDir,
		processedDir:  cfg.ProcessedDir,
		concurrency:   cfg.Concurrency,
		retries:       cfg.Retries,
	}
}

// Run ingests all pending .txt documents. A file that fails stays in the
// pending directory for the next run; the rest are still processed.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	log := logging.From(ctx)

	if err := os.MkdirAll(p.supportingDir, 0o755); err != nil {
		return Stats{}, goerr.Wrap(err, "failed to create supporting docs dir")
	}
	if err := os.MkdirAll(p.processedDir, 0o755); err != nil {
		return Stats{}, goerr.Wrap(err, "failed to create processed docs dir")
	}

	files, err := filepath.Glob(filepath.Join(p.supportingDir, "*.txt"))
	if err != nil {
		return Stats{}, goerr.Wrap(err, "failed to list pending documents")
	}
	if len(files) == 0 {
		log.Info("no documents to process", "dir", p.supportingDir)
		return Stats{}, nil
	}
	log.Info("starting document ingestion", "files", len(files))

	var stats Stats
	for _, path := range files {
		n, err := p.processFile(ctx, path)
		if err != nil {
			log.Error("failed to process document, leaving in place",
				"file", filepath.Base(path), "error", err)
			continue
		}
		stats.FilesProcessed++
		stats.ChunksStored += n
	}

	log.Info("ingestion complete",
		"files_processed", stats.FilesProcessed, "chunks_stored", stats.ChunksStored)
	return stats, nil
}

func (p *Pipeline) processFile(ctx context.Context, path string) (int, error) {
	log := logging.From(ctx)
	fileName := filepath.Base(path)

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read document", goerr.V("file", fileName))
	}

	sum := md5.Sum(content)
	fileHash := hex.EncodeToString(sum[:])

	chunks := p.chunker.ChunkDocument(string(content), fileName)
	for i := range chunks {
		chunks[i].Metadata.FileHash = fileHash
	}
	log.Info("chunked document", "file", fileName, "chunks", len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range chunks {
		g.Go(func() error {
			return p.embedAndStore(gctx, &chunks[i])
		})
	}
	if err := g.Wait(); err != nil {
		return 0, goerr.Wrap(err, "ingestion failed for document", goerr.V("file", fileName))
	}

	dest := filepath.Join(p.processedDir, fileName)
	if err := os.Rename(path, dest); err != nil {
		return 0, goerr.Wrap(err, "failed to move processed document", goerr.V("file", fileName))
	}

	return len(chunks), nil
}

// embedAndStore fills in the chunk's embedding and upserts it, retrying
// transient failures with a short pause between attempts.
func (p *Pipeline) embedAndStore(ctx context.Context, chunk *store.EvidenceChunk) error {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		lastErr = p.tryEmbedAndStore(ctx, chunk)
		if lastErr == nil {
			return nil
		}
	}
	return goerr.Wrap(lastErr, "chunk ingestion exhausted retries",
		goerr.V("chunk_id", chunk.ID), goerr.V("attempts", p.retries+1))
}

func (p *Pipeline) tryEmbedAndStore(ctx context.Context, chunk *store.EvidenceChunk) error {
	vectors, err := p.embedder.Embed(ctx, []string{chunk.Text})
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return goerr.New("embedding gateway returned no vectors", goerr.V("chunk_id", chunk.ID))
	}
	chunk.Embedding = vectors[0]
	return p.evidence.UpsertChunk(ctx, *chunk)
}
