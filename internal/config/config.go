package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	RAG       RAGConfig       `mapstructure:"rag" yaml:"rag"`
	Index     IndexConfig     `mapstructure:"index" yaml:"index"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" yaml:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins" yaml:"allow_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // console or json
}

// LLMConfig describes the chat model.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Key         string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EmbeddingConfig describes the embedding model. Empty provider, key and
// base url fall back to the LLM settings.
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Key      string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Model    string `mapstructure:"model" yaml:"model"`
}

type RAGConfig struct {
	KnowledgeBasePath string   `mapstructure:"knowledge_base_path" yaml:"knowledge_base_path"`
	ChunkSize         int      `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap      int      `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	Separators        []string `mapstructure:"separators" yaml:"separators"`
	K                 int      `mapstructure:"k" yaml:"k"`
	MaxContextChars   int      `mapstructure:"max_context_chars" yaml:"max_context_chars"`
	SystemPrompt      string   `mapstructure:"system_prompt" yaml:"system_prompt"`
}

type IndexConfig struct {
	Store      string        `mapstructure:"store" yaml:"store"` // chromem or pgvector
	Collection string        `mapstructure:"collection" yaml:"collection"`
	BatchSize  int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchPause time.Duration `mapstructure:"batch_pause" yaml:"batch_pause"`
	Rate       float64       `mapstructure:"rate" yaml:"rate"` // embedding requests per second, 0 disables
	Burst      int           `mapstructure:"burst" yaml:"burst"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	CacheDir   string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	CacheKey   string        `mapstructure:"cache_key" yaml:"cache_key"`
	Compress   bool          `mapstructure:"compress" yaml:"compress"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Name     string `mapstructure:"name" yaml:"name"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
	Debug    bool   `mapstructure:"debug" yaml:"debug"`
}

const (
	StoreChromem  = "chromem"
	StorePgvector = "pgvector"
)

var DefaultSeparators = []string{"\n## ", "\n### ", "\n\n", "\n", " ", ""}

const DefaultSystemPrompt = `Você é um assistente especialista no dicionário de dados da empresa.
Responda à pergunta do usuário usando apenas o contexto abaixo.
Se a resposta não estiver no contexto, diga que não sabe. Não invente informações.

Contexto:
{{.context}}`

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("llm.provider", "googleai")
	v.SetDefault("llm.model", "gemini-2.5-flash-lite")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("embedding.model", "text-embedding-004")

	v.SetDefault("rag.knowledge_base_path", "data/knowledge_base/dicionario_toon_v2.md")
	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.separators", DefaultSeparators)
	v.SetDefault("rag.k", 4)
	v.SetDefault("rag.max_context_chars", 12000)
	v.SetDefault("rag.system_prompt", DefaultSystemPrompt)

	v.SetDefault("index.store", StoreChromem)
	v.SetDefault("index.collection", "knowledge")
	v.SetDefault("index.batch_size", 30)
	v.SetDefault("index.batch_pause", "0s")
	v.SetDefault("index.rate", 1.0)
	v.SetDefault("index.burst", 1)
	v.SetDefault("index.max_retries", 5)
	v.SetDefault("index.cache_dir", "")
	v.SetDefault("index.cache_key", "")
	v.SetDefault("index.compress", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.debug", false)
}

func bindEnv(v *viper.Viper) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.request_timeout", "REQUEST_TIMEOUT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")

	v.BindEnv("llm.provider", "LLM_PROVIDER")
	v.BindEnv("llm.api_key", "LLM_API_KEY", "GOOGLE_API_KEY")
	v.BindEnv("llm.base_url", "LLM_BASE_URL")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("llm.temperature", "TEMPERATURE")

	v.BindEnv("embedding.provider", "EMBEDDING_PROVIDER")
	v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	v.BindEnv("embedding.base_url", "EMBEDDING_BASE_URL")
	v.BindEnv("embedding.model", "EMBEDDING_MODEL")

	v.BindEnv("rag.knowledge_base_path", "KNOWLEDGE_BASE_PATH")
	v.BindEnv("rag.chunk_size", "CHUNK_SIZE")
	v.BindEnv("rag.chunk_overlap", "CHUNK_OVERLAP")
	v.BindEnv("rag.k", "RETRIEVAL_K")
	v.BindEnv("rag.max_context_chars", "MAX_CONTEXT_CHARS")

	v.BindEnv("index.store", "VECTOR_STORE")
	v.BindEnv("index.batch_size", "INDEX_BATCH_SIZE")
	v.BindEnv("index.rate", "EMBED_RATE")
	v.BindEnv("index.cache_dir", "INDEX_CACHE_DIR")
	v.BindEnv("index.cache_key", "INDEX_CACHE_KEY")

	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
}

// LoadConfig reads defaults, then the optional YAML file at path, then the
// environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyFallbacks() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = c.LLM.Provider
	}
	if c.Embedding.Key == "" {
		c.Embedding.Key = c.LLM.Key
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = c.LLM.BaseURL
	}
	if len(c.RAG.Separators) == 0 {
		c.RAG.Separators = DefaultSeparators
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize))
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap))
	}
	if c.RAG.K <= 0 {
		errs = append(errs, fmt.Errorf("rag.k must be positive, got %d", c.RAG.K))
	}
	if c.Index.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize))
	}
	if c.Index.Rate < 0 {
		errs = append(errs, fmt.Errorf("index.rate must not be negative, got %v", c.Index.Rate))
	}
	switch c.Index.Store {
	case StoreChromem, StorePgvector:
	default:
		errs = append(errs, fmt.Errorf("index.store must be %q or %q, got %q", StoreChromem, StorePgvector, c.Index.Store))
	}
	if c.Index.CacheKey != "" && len(c.Index.CacheKey) != 32 {
		errs = append(errs, errors.New("index.cache_key must be 32 bytes"))
	}
	return errors.Join(errs...)
}

// DSN returns the postgres connection string, preferring database.url.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

// Redacted returns a copy safe for logging.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.LLM.Key = mask(c.LLM.Key)
	c.Embedding.Key = mask(c.Embedding.Key)
	c.Index.CacheKey = mask(c.Index.CacheKey)
	c.Database.Password = mask(c.Database.Password)
	if c.Database.URL != "" {
		c.Database.URL = "****"
	}
	return c
}

// WriteYAML dumps the redacted config.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(c.Redacted())
}
