package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Config holds process-level settings sourced from the environment. It is
// constructed once in main and passed into component constructors; nothing
// reads the environment after startup.
type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string

	Settings Settings
}

// Settings is the tuning configuration loaded from config.yaml, mirroring
// the knobs the retrieval and generation layers expose.
type Settings struct {
	RAG struct {
		RetrievalK     int     `yaml:"retrieval_k"`
		LexicalK       int     `yaml:"lexical_k"`
		SemanticWeight float64 `yaml:"semantic_weight"`
		BM25Weight     float64 `yaml:"bm25_weight"`
		RerankerModel  string  `yaml:"reranker_model"`
		ChunkSize      int     `yaml:"chunk_size"`
		ChunkOverlap   int     `yaml:"chunk_overlap"`
		HistoryWindow  int     `yaml:"history_window"`
	} `yaml:"rag"`

	Generation struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int32   `yaml:"max_tokens"`
		TopP        float32 `yaml:"top_p"`
	} `yaml:"generation"`

	Models struct {
		Chat      string `yaml:"chat"`
		Embedding string `yaml:"embedding"`
	} `yaml:"models"`

	Store struct {
		Type   string `yaml:"type"` // "sqlite" or "chroma"
		Chroma struct {
			URL        string `yaml:"url"`
			Collection string `yaml:"collection"`
		} `yaml:"chroma"`
	} `yaml:"store"`

	Paths struct {
		SupportingDocs string `yaml:"supporting_docs_folder"`
		ProcessedDocs  string `yaml:"processed_docs_folder"`
	} `yaml:"paths"`

	Ingest struct {
		Concurrency int `yaml:"concurrency"`
		Retries     int `yaml:"retries"`
	} `yaml:"ingest"`
}

// Load reads the environment (honoring a .env file if present) and the YAML
// settings file. Missing required credentials are a startup error.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional, real env vars win

	cfg := &Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:  getEnv("DATABASE_URL", "hr_assistant.db"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, goerr.New("GEMINI_API_KEY environment variable is required")
	}

	settings, err := LoadSettings(getEnv("CONFIG_YAML_PATH", "config.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Settings = *settings

	return cfg, nil
}

// LoadSettings reads tuning settings from a YAML file. A missing file yields
// the defaults so the service can start without one.
func LoadSettings(path string) (*Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&s)
			return &s, nil
		}
		return nil, goerr.Wrap(err, "failed to read settings file", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, goerr.Wrap(err, "failed to parse settings file", goerr.V("path", path))
	}
	applyDefaults(&s)
	return &s, nil
}

func applyDefaults(s *Settings) {
	if s.RAG.RetrievalK == 0 {
		s.RAG.RetrievalK = 5
	}
	if s.RAG.LexicalK == 0 {
		s.RAG.LexicalK = 1
	}
	if s.RAG.SemanticWeight == 0 {
		s.RAG.SemanticWeight = 0.7
	}
	if s.RAG.BM25Weight == 0 {
		s.RAG.BM25Weight = 0.3
	}
	if s.RAG.ChunkSize == 0 {
		s.RAG.ChunkSize = 500
	}
	if s.RAG.ChunkOverlap == 0 {
		s.RAG.ChunkOverlap = 50
	}
	if s.RAG.HistoryWindow == 0 {
		s.RAG.HistoryWindow = 6
	}
	if s.Generation.Temperature == 0 {
		s.Generation.Temperature = 0.3
	}
	if s.Generation.MaxTokens == 0 {
		s.Generation.MaxTokens = 500
	}
	if s.Generation.TopP == 0 {
		s.Generation.TopP = 0.9
	}
	if s.Models.Chat == "" {
		s.Models.Chat = "gemini-1.5-flash-latest"
	}
	if s.Models.Embedding == "" {
		s.Models.Embedding = "text-embedding-004"
	}
	if s.Store.Type == "" {
		s.Store.Type = "sqlite"
	}
	if s.Store.Chroma.Collection == "" {
		s.Store.Chroma.Collection = "acme_hr_docs"
	}
	if s.Paths.SupportingDocs == "" {
		s.Paths.SupportingDocs = "supporting_docs"
	}
	if s.Paths.ProcessedDocs == "" {
		s.Paths.ProcessedDocs = "processed_docs"
	}
	if s.Ingest.Concurrency == 0 {
		s.Ingest.Concurrency = 4
	}
	if s.Ingest.Retries == 0 {
		s.Ingest.Retries = 2
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
