package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	EmbedLLM  LLMConfig       `yaml:"embedding"`
	RAG       RAGConfig       `yaml:"rag"`
	Index     IndexConfig     `yaml:"index"`
	Database  DatabaseConfig  `yaml:"database"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Personas  []PersonaConfig `yaml:"personas"`
}

type ServerConfig struct {
	Addr              string `yaml:"addr"`
	ReadHeaderTimeout int    `yaml:"read_header_timeout_secs"`
}

// LLMConfig describes one hosted model endpoint. Provider is "googleai" or "openai".
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	Key       string `yaml:"-"`
}

type RAGConfig struct {
	TranscriptPath string  `yaml:"transcript_path"`
	ChunkSize      int     `yaml:"chunk_size"`
	ChunkOverlap   int     `yaml:"chunk_overlap"`
	TopK           int     `yaml:"top_k"`
	Temperature    float64 `yaml:"temperature"`
	SuggestTemp    float64 `yaml:"suggest_temperature"`
	EmbedBatchSize int     `yaml:"embed_batch_size"`
}

// IndexConfig selects where the similarity index lives. Backend is "chromem" or "pgvector".
type IndexConfig struct {
	Backend       string `yaml:"backend"`
	Dir           string `yaml:"dir"`
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type ExtractorConfig struct {
	Source      string  `yaml:"source"`
	DownloadDir string  `yaml:"download_dir"`
	Zoom        float64 `yaml:"zoom"`
	Mode        string  `yaml:"mode"`
}

type PersonaConfig struct {
	Key        string `yaml:"key"`
	Name       string `yaml:"name"`
	Descriptor string `yaml:"descriptor"`
}

const (
	DefaultAPIKeyEnv      = "GOOGLE_API_KEY"
	defaultChatModel      = "gemini-2.0-flash-exp"
	defaultEmbeddingModel = "models/embedding-001"
	defaultSourceURL      = "https://drive.usercontent.google.com/download?id=1SvRIU3ON4FFUu-Dp0AOmerFs_xcQg7t-&export=download&authuser=0"
)

// LoadConfig reads .env (if present) and the yaml file at path. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(&cfg)
	cfg.LLM.Key = os.Getenv(cfg.LLM.APIKeyEnv)
	cfg.EmbedLLM.Key = os.Getenv(cfg.EmbedLLM.APIKeyEnv)
	return &cfg, nil
}

// MissingKeys returns the env var names that are configured but unset.
func (c *Config) MissingKeys() []string {
	var missing []string
	if c.LLM.Key == "" {
		missing = append(missing, c.LLM.APIKeyEnv)
	}
	if c.EmbedLLM.Key == "" && c.EmbedLLM.APIKeyEnv != c.LLM.APIKeyEnv {
		missing = append(missing, c.EmbedLLM.APIKeyEnv)
	}
	return missing
}

func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10
	}
	applyLLMDefaults(&cfg.LLM, defaultChatModel)
	applyLLMDefaults(&cfg.EmbedLLM, defaultEmbeddingModel)

	if cfg.RAG.TranscriptPath == "" {
		cfg.RAG.TranscriptPath = "data/extracted_text.json"
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 10000
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 1000
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 4
	}
	if cfg.RAG.Temperature == 0 {
		cfg.RAG.Temperature = 0.3
	}
	if cfg.RAG.SuggestTemp == 0 {
		cfg.RAG.SuggestTemp = 0.2
	}
	if cfg.RAG.EmbedBatchSize == 0 {
		cfg.RAG.EmbedBatchSize = 32
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "chromem"
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = "./index"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "crypto_guidance"
	}

	if cfg.Extractor.Source == "" {
		cfg.Extractor.Source = defaultSourceURL
	}
	if cfg.Extractor.DownloadDir == "" {
		cfg.Extractor.DownloadDir = "downloads"
	}
	if cfg.Extractor.Zoom == 0 {
		cfg.Extractor.Zoom = 2
	}
	if cfg.Extractor.Mode == "" {
		cfg.Extractor.Mode = "ocr"
	}
}

func applyLLMDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = "googleai"
	}
	c.Provider = strings.ToLower(c.Provider)
	if c.Model == "" {
		c.Model = model
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = DefaultAPIKeyEnv
	}
}
