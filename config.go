package openmemory

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Tier is a preset bundle of dimension / concurrency / cache defaults.
type Tier string

const (
	TierHybrid Tier = "hybrid" // keyword-weighted scoring, smallest vectors
	TierFast   Tier = "fast"
	TierSmart  Tier = "smart"
	TierDeep   Tier = "deep"
)

// ScoringWeights blends the hybrid score components. Weights should sum to 1;
// the defaults are biased toward vector similarity and salience.
type ScoringWeights struct {
	Vector   float64 `mapstructure:"w_vec"`
	Keyword  float64 `mapstructure:"w_kw"`
	BM25     float64 `mapstructure:"w_bm25"`
	Salience float64 `mapstructure:"w_sal"`
	Recency  float64 `mapstructure:"w_rec"`
}

// DefaultScoringWeights returns the standard blend.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Vector: 0.60, Keyword: 0.10, BM25: 0.05, Salience: 0.15, Recency: 0.10}
}

// KeywordOnlyWeights is the "hybrid" tier blend: lexical matching only.
func KeywordOnlyWeights() ScoringWeights {
	return ScoringWeights{Vector: 0, Keyword: 1, BM25: 0, Salience: 0, Recency: 0}
}

// Config holds all process-wide settings. Immutable after Init.
type Config struct {
	Port int `mapstructure:"port"`

	// Metadata store
	MetadataBackend string `mapstructure:"metadata_backend"` // sqlite | postgres
	DBPath          string `mapstructure:"db_path"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`

	// Vector store
	VectorBackend    string `mapstructure:"vector_backend"` // inproc | qdrant
	QdrantURL        string `mapstructure:"qdrant_url"`
	QdrantAPIKey     string `mapstructure:"qdrant_api_key"`
	CollectionPrefix string `mapstructure:"collection_prefix"`

	// Embeddings
	Embeddings    string `mapstructure:"embeddings"` // openai | gemini | ollama | synthetic
	VecDim        int    `mapstructure:"vec_dim"`
	OpenAIKey     string `mapstructure:"openai_api_key"`
	GeminiKey     string `mapstructure:"gemini_api_key"`
	OllamaHost    string `mapstructure:"ollama_host"`
	OllamaModel   string `mapstructure:"ollama_model"`
	EmbedMode     string `mapstructure:"embed_mode"` // simple | advanced
	EmbedDelayMS  int    `mapstructure:"embed_delay_ms"`
	EmbedParallel bool   `mapstructure:"embed_parallel"`

	Tier Tier `mapstructure:"tier"`

	// Retrieval
	MinScore         float64        `mapstructure:"min_score"`
	KeywordBoost     float64        `mapstructure:"keyword_boost"`
	KeywordMinLength int            `mapstructure:"keyword_min_length"`
	ExpandThreshold  float64        `mapstructure:"expand_threshold"`
	Weights          ScoringWeights `mapstructure:"weights"`

	// Salience
	DecayThreads        int           `mapstructure:"decay_threads"`
	DecayInterval       time.Duration `mapstructure:"decay_interval"`
	ColdThreshold       float64       `mapstructure:"cold_threshold"`
	ReinforceOnQuery    bool          `mapstructure:"reinforce_on_query"`
	ReinforceBoost      float64       `mapstructure:"reinforce_boost"`
	RegenerationEnabled bool          `mapstructure:"regeneration_enabled"`

	// Vectors / caching
	MaxVectorDim     int  `mapstructure:"max_vector_dim"`
	MinVectorDim     int  `mapstructure:"min_vector_dim"`
	SummaryLayers    int  `mapstructure:"summary_layers"`
	UseSummaryOnly   bool `mapstructure:"use_summary_only"`
	SummaryMaxLength int  `mapstructure:"summary_max_length"`
	SegSize          int  `mapstructure:"seg_size"`
	CacheSegments    int  `mapstructure:"cache_segments"`
	MaxActive        int  `mapstructure:"max_active"`

	// Reflection
	AutoReflect        bool          `mapstructure:"auto_reflect"`
	ReflectInterval    time.Duration `mapstructure:"reflect_interval"`
	ReflectMinMemories int           `mapstructure:"reflect_min_memories"`

	// Compression
	CompressionEnabled   bool   `mapstructure:"compression_enabled"`
	CompressionMinLength int    `mapstructure:"compression_min_length"`
	CompressionAlgorithm string `mapstructure:"compression_algorithm"` // gzip | none
}

// tierDefaults maps each tier to (vec_dim, cache_segments, max_active).
var tierDefaults = map[Tier][3]int{
	TierHybrid: {256, 1, 32},
	TierFast:   {384, 2, 64},
	TierSmart:  {768, 3, 64},
	TierDeep:   {1536, 4, 128},
}

// ApplyDefaults fills zero-valued fields with tier-aware defaults.
func (c *Config) ApplyDefaults() {
	if c.Tier == "" {
		c.Tier = TierSmart
	}
	td, ok := tierDefaults[c.Tier]
	if !ok {
		td = tierDefaults[TierSmart]
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MetadataBackend == "" {
		c.MetadataBackend = "sqlite"
	}
	if c.DBPath == "" {
		c.DBPath = "./data/openmemory.db"
	}
	if c.VectorBackend == "" {
		c.VectorBackend = "inproc"
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "openmemory_vectors_"
	}
	if c.Embeddings == "" {
		c.Embeddings = "synthetic"
	}
	if c.VecDim == 0 {
		c.VecDim = td[0]
	}
	if c.OllamaHost == "" {
		c.OllamaHost = "http://localhost:11434"
	}
	if c.OllamaModel == "" {
		c.OllamaModel = "nomic-embed-text"
	}
	if c.EmbedMode == "" {
		c.EmbedMode = "simple"
	}
	if c.MinScore == 0 {
		c.MinScore = 0.1
	}
	if c.KeywordBoost == 0 {
		c.KeywordBoost = 1.0
	}
	if c.KeywordMinLength == 0 {
		c.KeywordMinLength = 3
	}
	if c.ExpandThreshold == 0 {
		c.ExpandThreshold = 0.6
	}
	if c.Weights == (ScoringWeights{}) {
		if c.Tier == TierHybrid {
			c.Weights = KeywordOnlyWeights()
		} else {
			c.Weights = DefaultScoringWeights()
		}
	}
	if c.DecayThreads == 0 {
		c.DecayThreads = 2
	}
	if c.DecayInterval == 0 {
		c.DecayInterval = 12 * time.Hour
	}
	if c.ColdThreshold == 0 {
		c.ColdThreshold = 0.05
	}
	if c.ReinforceBoost == 0 {
		c.ReinforceBoost = 0.1
	}
	if c.MaxVectorDim == 0 {
		c.MaxVectorDim = 4096
	}
	if c.MinVectorDim == 0 {
		c.MinVectorDim = 64
	}
	if c.SummaryLayers == 0 {
		c.SummaryLayers = 1
	}
	if c.SummaryMaxLength == 0 {
		c.SummaryMaxLength = 200
	}
	if c.SegSize == 0 {
		c.SegSize = 512
	}
	if c.CacheSegments == 0 {
		c.CacheSegments = td[1]
	}
	if c.MaxActive == 0 {
		c.MaxActive = td[2]
	}
	if c.ReflectInterval == 0 {
		c.ReflectInterval = 30 * time.Minute
	}
	if c.ReflectMinMemories == 0 {
		c.ReflectMinMemories = 8
	}
	if c.CompressionMinLength == 0 {
		c.CompressionMinLength = 512
	}
	if c.CompressionAlgorithm == "" {
		c.CompressionAlgorithm = "gzip"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.MetadataBackend {
	case "sqlite", "postgres":
	default:
		return validationf("unknown metadata_backend %q", c.MetadataBackend)
	}
	if c.MetadataBackend == "postgres" && c.PostgresDSN == "" {
		return validationf("postgres_dsn required for postgres backend")
	}
	switch c.VectorBackend {
	case "inproc", "qdrant":
	default:
		return validationf("unknown vector_backend %q", c.VectorBackend)
	}
	if c.VectorBackend == "qdrant" && c.QdrantURL == "" {
		return validationf("qdrant_url required for qdrant backend")
	}
	switch c.Embeddings {
	case "openai", "gemini", "ollama", "synthetic":
	default:
		return validationf("unknown embeddings provider %q", c.Embeddings)
	}
	if c.VecDim < c.MinVectorDim || c.VecDim > c.MaxVectorDim {
		return validationf("vec_dim %d outside [%d, %d]", c.VecDim, c.MinVectorDim, c.MaxVectorDim)
	}
	switch c.CompressionAlgorithm {
	case "gzip", "none":
	default:
		return validationf("unknown compression_algorithm %q", c.CompressionAlgorithm)
	}
	return nil
}

// LoadConfig reads configuration from an optional YAML file plus
// OPENMEMORY_* environment overrides, then applies tier defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OPENMEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
