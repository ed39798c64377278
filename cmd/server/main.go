package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acme.com/hr-assistant/internal/api"
	"acme.com/hr-assistant/internal/config"
	"acme.com/hr-assistant/internal/core"
	"acme.com/hr-assistant/internal/ingest"
	"acme.com/hr-assistant/internal/llm"
	"acme.com/hr-assistant/internal/logging"
	"acme.com/hr-assistant/internal/store"
)

func main() {
	ingestFlag := flag.Bool("ingest", false, "Ingest pending documents and exit")
	watchFlag := flag.Bool("watch", false, "With -ingest: keep watching for new documents")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, os.Stdout)
	logging.SetDefault(logger)
	ctx := logging.With(context.Background(), logger)

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbStore.Close()

	llmClient, err := llm.NewClient(ctx, cfg.GeminiAPIKey, cfg.Settings.Models.Chat, cfg.Settings.Models.Embedding)
	if err != nil {
		logger.Error("failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer llmClient.Close()

	// The evidence side of the store is swappable; sessions stay in SQLite.
	var evidence core.EvidenceStore = dbStore
	var upserter ingest.Upserter = dbStore
	if cfg.Settings.Store.Type == "chroma" {
		chromaStore, err := store.NewChromaStore(ctx, store.ChromaConfig{
			URL:        cfg.Settings.Store.Chroma.URL,
			Collection: cfg.Settings.Store.Chroma.Collection,
		})
		if err != nil {
			logger.Error("failed to initialize chroma store", "error", err)
			os.Exit(1)
		}
		evidence = chromaStore
		upserter = chromaStore
	}

	if *ingestFlag {
		runIngest(ctx, cfg, llmClient, upserter, *watchFlag)
		return
	}

	if dbStore.CountChunks() == 0 && cfg.Settings.Store.Type == "sqlite" {
		logger.Warn("evidence store is empty; run with -ingest to load documents")
	}

	rewriter := core.NewRewriter(llmClient)
	retriever := core.NewRetriever(llmClient, evidence, core.RetrieverOptions{
		SemanticK:      cfg.Settings.RAG.RetrievalK,
		LexicalK:       cfg.Settings.RAG.LexicalK,
		SemanticWeight: cfg.Settings.RAG.SemanticWeight,
		BM25Weight:     cfg.Settings.RAG.BM25Weight,
		RerankerModel:  cfg.Settings.RAG.RerankerModel,
	})
	assembler := core.NewPromptAssembler(cfg.Settings.RAG.HistoryWindow)
	chatService := core.NewChatService(dbStore, rewriter, retriever, assembler, llmClient, core.GenParams{
		Temperature: cfg.Settings.Generation.Temperature,
		MaxTokens:   cfg.Settings.Generation.MaxTokens,
		TopP:        cfg.Settings.Generation.TopP,
	})

	apiHandler := api.NewAPIHandler(chatService)
	router := api.NewRouter(apiHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited gracefully")
}

func runIngest(ctx context.Context, cfg *config.Config, embedder core.EmbeddingClient, upserter ingest.Upserter, watch bool) {
	logger := logging.From(ctx)

	pipeline := ingest.NewPipeline(embedder, upserter, ingest.PipelineConfig{
		SupportingDir: cfg.Settings.Paths.SupportingDocs,
		ProcessedDir:  cfg.Settings.Paths.ProcessedDocs,
		ChunkSize:     cfg.Settings.RAG.ChunkSize,
		ChunkOverlap:  cfg.Settings.RAG.ChunkOverlap,
		Concurrency:   cfg.Settings.Ingest.Concurrency,
		Retries:       cfg.Settings.Ingest.Retries,
	})

	stats, err := pipeline.Run(ctx)
	if err != nil {
		logger.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ingestion run finished",
		"files", stats.FilesProcessed, "chunks", stats.ChunksStored)

	if !watch {
		return
	}

	watchCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	watcher := ingest.NewWatcher(pipeline, cfg.Settings.Paths.SupportingDocs)
	if err := watcher.Watch(watchCtx); err != nil {
		logger.Error("document watcher failed", "error", err)
		os.Exit(1)
	}
}
