package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Neo4j     Neo4jConfig
	Milvus    MilvusConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Vector    VectorConfig
	History   HistoryConfig
	Router    RouterConfig
	Tracing   TracingConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	AllowedOrigins       []string
	Development          bool
	MaxRequestsPerMinute int
	MaxMessageLength     int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	SearchNProbe   int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	EmbeddingTTL int
}

type LLMConfig struct {
	Provider       string
	BaseURL        string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

// RetrievalConfig holds the tunables of the retrieval pipeline. Topic keywords and
// the fallback labels are product decisions, so they live here rather than in code.
type RetrievalConfig struct {
	RowCap               int
	MaxRepairAttempts    int
	TopK                 int
	TopicKeywords        []string
	CountableLabels      []string
	EvidenceLabel        string
	TopicLabel           string
	EvidenceRelationship string
	UnitToken            string
	DeterministicAnswers bool
	PipelineTimeoutSec   int
	HistoryLimit         int
}

type VectorConfig struct {
	Provider  string
	IndexName string
}

type HistoryConfig struct {
	Backend         string
	WriteTimeoutSec int
}

type RouterConfig struct {
	Mode string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (r RetrievalConfig) PipelineTimeout() time.Duration {
	return time.Duration(r.PipelineTimeoutSec) * time.Second
}

func (h HistoryConfig) WriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeoutSec) * time.Second
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.EmbeddingTTL) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/scope3-agent")

	return load(v)
}

// LoadFile reads configuration from an explicit path, still honouring env overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("SCOPE3_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Vector.Provider {
	case "neo4j", "milvus":
	default:
		return fmt.Errorf("unknown vector provider %q", c.Vector.Provider)
	}

	switch c.History.Backend {
	case "neo4j", "sqlite":
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}

	switch c.Router.Mode {
	case "llm", "structured", "semantic":
	default:
		return fmt.Errorf("unknown router mode %q", c.Router.Mode)
	}

	if c.Retrieval.RowCap <= 0 {
		return fmt.Errorf("retrieval.rowCap must be positive, got %d", c.Retrieval.RowCap)
	}
	if c.Retrieval.MaxRepairAttempts <= 0 {
		return fmt.Errorf("retrieval.maxRepairAttempts must be positive, got %d", c.Retrieval.MaxRepairAttempts)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 60)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)
	v.SetDefault("server.maxRequestsPerMinute", 30)
	v.SetDefault("server.maxMessageLength", 2000)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionName", "scope3_chunks")
	v.SetDefault("milvus.vectorDim", 1536)
	v.SetDefault("milvus.searchNProbe", 16)

	v.SetDefault("sqlite.path", "./data/scope3.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTL", 86400)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("retrieval.rowCap", 10)
	v.SetDefault("retrieval.maxRepairAttempts", 5)
	v.SetDefault("retrieval.topK", 5)
	v.SetDefault("retrieval.topicKeywords", []string{"Efficiency", "Sustainability", "Asia", "Africa", "Global Economy"})
	v.SetDefault("retrieval.countableLabels", []string{"Emissionscope"})
	v.SetDefault("retrieval.evidenceLabel", "Chunk")
	v.SetDefault("retrieval.topicLabel", "Emissionscope")
	v.SetDefault("retrieval.evidenceRelationship", "HAS_ENTITY")
	v.SetDefault("retrieval.unitToken", "MtCO2e")
	v.SetDefault("retrieval.deterministicAnswers", true)
	v.SetDefault("retrieval.pipelineTimeoutSec", 90)
	v.SetDefault("retrieval.historyLimit", 0)

	v.SetDefault("vector.provider", "neo4j")
	v.SetDefault("vector.indexName", "doc-embeddings")

	v.SetDefault("history.backend", "neo4j")
	v.SetDefault("history.writeTimeoutSec", 10)

	v.SetDefault("router.mode", "llm")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "scope3-agent")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
