// Package config defines the typed runtime configuration and its koanf-based
// loader. Every tunable the scoring engine, the canonicalization service and
// the turn pipeline consume lives here; services receive config at
// construction and never read globals.
package config

import (
	"fmt"
	"os"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderOllama    LLMProvider = "ollama"
)

// LLMConfig configures one logical LLM client.
type LLMConfig struct {
	// Provider type (anthropic, openai, ollama).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=anthropic,enum=openai,enum=ollama"`

	// Model name (e.g. "claude-sonnet-4-20250514", "gpt-4o-mini").
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Timeout in seconds for a single request.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// MaxRetries for transient HTTP failures.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

// SetDefaults applies per-provider defaults.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}
	if c.Model == "" {
		switch c.Provider {
		case LLMProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case LLMProviderOpenAI:
			c.Model = "gpt-4o-mini"
		case LLMProviderOllama:
			c.Model = "llama3.2"
		}
	}
	if c.APIKey == "" {
		c.APIKey = getAPIKeyFromEnv(c.Provider)
	}
	if c.Temperature == nil {
		temp := 0.3
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	validProviders := map[LLMProvider]bool{
		LLMProviderAnthropic: true,
		LLMProviderOpenAI:    true,
		LLMProviderOllama:    true,
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid llm provider: %s (valid: anthropic, openai, ollama)", c.Provider)
	}
	if c.Provider != LLMProviderOllama && c.APIKey == "" {
		return fmt.Errorf("api key required for provider %s", c.Provider)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be in [0, 2], got %v", *c.Temperature)
	}
	return nil
}

func detectProviderFromEnv() LLMProvider {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return LLMProviderAnthropic
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return LLMProviderOpenAI
	}
	return LLMProviderOllama
}

func getAPIKeyFromEnv(provider LLMProvider) string {
	switch provider {
	case LLMProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

// LLMClientsConfig holds the three logical clients the pipeline uses.
type LLMClientsConfig struct {
	// Extraction extracts typed subgraphs from utterances.
	Extraction LLMConfig `yaml:"extraction,omitempty" json:"extraction,omitempty"`

	// Scoring powers the qualitative signal extractor.
	Scoring LLMConfig `yaml:"scoring,omitempty" json:"scoring,omitempty"`

	// Generation produces interview questions.
	Generation LLMConfig `yaml:"generation,omitempty" json:"generation,omitempty"`
}

func (c *LLMClientsConfig) SetDefaults() {
	// Per-client temperature conventions when the user didn't pin one; must
	// run before the per-client SetDefaults, which falls back to 0.3.
	if c.Extraction.Temperature == nil {
		t := 0.3
		c.Extraction.Temperature = &t
	}
	if c.Scoring.Temperature == nil {
		t := 0.2
		c.Scoring.Temperature = &t
	}
	if c.Generation.Temperature == nil {
		t := 0.8
		c.Generation.Temperature = &t
	}
	c.Extraction.SetDefaults()
	c.Scoring.SetDefaults()
	c.Generation.SetDefaults()
}

func (c *LLMClientsConfig) Validate() error {
	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("llm.extraction: %w", err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("llm.scoring: %w", err)
	}
	if err := c.Generation.Validate(); err != nil {
		return fmt.Errorf("llm.generation: %w", err)
	}
	return nil
}

// EmbedderConfig configures the embedding service.
type EmbedderConfig struct {
	// Type of embedder (ollama, openai).
	Type string `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=ollama,enum=openai"`

	// Model name.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Host for ollama; BaseURL for openai.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// APIKey for openai.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Dimension of the produced vectors.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty"`

	// Timeout in seconds.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// MaxRetries for transient failures.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// CacheSize bounds the in-memory text→vector cache (entries).
	CacheSize int `yaml:"cache_size,omitempty" json:"cache_size,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "text-embedding-3-small"
		default:
			c.Model = "nomic-embed-text"
		}
	}
	if c.Host == "" && c.Type == "ollama" {
		c.Host = "http://localhost:11434"
	}
	if c.Dimension == 0 {
		switch c.Type {
		case "openai":
			c.Dimension = 1536
		default:
			c.Dimension = 768
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.CacheSize == 0 {
		c.CacheSize = 4096
	}
}

// StorageConfig configures the relational store.
type StorageConfig struct {
	// Driver: sqlite, postgres or mysql.
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty" jsonschema:"enum=sqlite,enum=postgres,enum=mysql"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

func (c *StorageConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && c.Driver == "sqlite" {
		c.DSN = "inquest.db"
	}
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres", "mysql":
		return nil
	default:
		return fmt.Errorf("invalid storage driver: %s (valid: sqlite, postgres, mysql)", c.Driver)
	}
}

// VectorConfig configures the canonical slot similarity index.
type VectorConfig struct {
	// Type: chromem (embedded, default) or qdrant.
	Type string `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=chromem,enum=qdrant"`

	// PersistPath for chromem file persistence (empty = memory only).
	PersistPath string `yaml:"persist_path,omitempty" json:"persist_path,omitempty"`

	// Host for qdrant.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port for qdrant gRPC.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// APIKey for qdrant cloud.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

// PhaseConfig holds the turn budget of one interview phase.
type PhaseConfig struct {
	NTurns int `yaml:"n_turns,omitempty" json:"n_turns,omitempty"`
}

// PhasesConfig splits the interview into deterministic turn buckets.
type PhasesConfig struct {
	Exploratory PhaseConfig `yaml:"exploratory,omitempty" json:"exploratory,omitempty"`
	Focused     PhaseConfig `yaml:"focused,omitempty" json:"focused,omitempty"`
	Closing     PhaseConfig `yaml:"closing,omitempty" json:"closing,omitempty"`
}

// InterviewConfig holds the turn pipeline and canonicalization knobs.
type InterviewConfig struct {
	// MaxTurns caps a session; reaching it forces closing.
	MaxTurns int `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`

	Phases PhasesConfig `yaml:"phases,omitempty" json:"phases,omitempty"`

	// CanonicalSimilarityThreshold is the cosine threshold for merging a
	// proposed slot into an existing one.
	CanonicalSimilarityThreshold float64 `yaml:"canonical_similarity_threshold,omitempty" json:"canonical_similarity_threshold,omitempty"`

	// CanonicalMinSupportNodes promotes a candidate slot to active once its
	// support count reaches this value.
	CanonicalMinSupportNodes int `yaml:"canonical_min_support_nodes,omitempty" json:"canonical_min_support_nodes,omitempty"`

	// SlotDiscoveryBatchSize caps the nodes sent to one slot-discovery call;
	// the remainder defers to later turns.
	SlotDiscoveryBatchSize int `yaml:"slot_discovery_batch_size,omitempty" json:"slot_discovery_batch_size,omitempty"`

	// SlotDiscoveryTimeout (seconds) for the slot-discovery LLM call.
	SlotDiscoveryTimeout int `yaml:"slot_discovery_timeout,omitempty" json:"slot_discovery_timeout,omitempty"`

	// MinExtractableChars / MinExtractableTokens below which extraction is
	// skipped for an utterance.
	MinExtractableChars  int `yaml:"min_extractable_chars,omitempty" json:"min_extractable_chars,omitempty"`
	MinExtractableTokens int `yaml:"min_extractable_tokens,omitempty" json:"min_extractable_tokens,omitempty"`

	// SignalLookbackTurns is how many conversation turns the qualitative
	// signal extractor analyzes.
	SignalLookbackTurns int `yaml:"signal_lookback_turns,omitempty" json:"signal_lookback_turns,omitempty"`

	// DepthTarget is the methodology chain-length target used by coverage
	// depth scores.
	DepthTarget int `yaml:"depth_target,omitempty" json:"depth_target,omitempty"`
}

func (c *InterviewConfig) SetDefaults() {
	if c.MaxTurns == 0 {
		c.MaxTurns = 20
	}
	if c.Phases.Exploratory.NTurns == 0 {
		c.Phases.Exploratory.NTurns = 5
	}
	if c.Phases.Focused.NTurns == 0 {
		c.Phases.Focused.NTurns = 10
	}
	if c.Phases.Closing.NTurns == 0 {
		c.Phases.Closing.NTurns = 5
	}
	if c.CanonicalSimilarityThreshold == 0 {
		c.CanonicalSimilarityThreshold = 0.80
	}
	if c.CanonicalMinSupportNodes == 0 {
		c.CanonicalMinSupportNodes = 2
	}
	if c.SlotDiscoveryBatchSize == 0 {
		c.SlotDiscoveryBatchSize = 8
	}
	if c.SlotDiscoveryTimeout == 0 {
		c.SlotDiscoveryTimeout = 60
	}
	if c.MinExtractableChars == 0 {
		c.MinExtractableChars = 10
	}
	if c.MinExtractableTokens == 0 {
		c.MinExtractableTokens = 2
	}
	if c.SignalLookbackTurns == 0 {
		c.SignalLookbackTurns = 5
	}
	if c.DepthTarget == 0 {
		c.DepthTarget = 4
	}
}

func (c *InterviewConfig) Validate() error {
	if c.CanonicalSimilarityThreshold < 0 || c.CanonicalSimilarityThreshold > 1 {
		return fmt.Errorf("canonical_similarity_threshold must be in [0, 1], got %v", c.CanonicalSimilarityThreshold)
	}
	if c.CanonicalMinSupportNodes < 1 {
		return fmt.Errorf("canonical_min_support_nodes must be >= 1, got %d", c.CanonicalMinSupportNodes)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be >= 1, got %d", c.MaxTurns)
	}
	return nil
}

// ScorerConfig configures one scorer instance.
type ScorerConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Weight applies to tier-2 scorers only; enabled tier-2 weights must sum
	// to 1.0 within the engine tolerance.
	Weight float64 `yaml:"weight,omitempty" json:"weight,omitempty"`

	// Params holds scorer-specific thresholds.
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (c ScorerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ScoringConfig configures the two-tier scoring engine.
type ScoringConfig struct {
	// VetoOnFirst stops tier-1 evaluation at the first veto.
	VetoOnFirst *bool `yaml:"veto_on_first,omitempty" json:"veto_on_first,omitempty"`

	// WeightTolerance for the tier-2 weight-sum check.
	WeightTolerance float64 `yaml:"weight_tolerance,omitempty" json:"weight_tolerance,omitempty"`

	// AlternativesCount and AlternativesMinScore shape the returned
	// runner-up list.
	AlternativesCount    int     `yaml:"alternatives_count,omitempty" json:"alternatives_count,omitempty"`
	AlternativesMinScore float64 `yaml:"alternatives_min_score,omitempty" json:"alternatives_min_score,omitempty"`

	// DepthMetric selects the depth implementation for the depth/breadth
	// balance scorer: "proxy" (edges/node) or "chain" (BFS longest chain).
	DepthMetric string `yaml:"depth_metric,omitempty" json:"depth_metric,omitempty" jsonschema:"enum=proxy,enum=chain"`

	// Scorers maps scorer id to its configuration.
	Scorers map[string]ScorerConfig `yaml:"scorers,omitempty" json:"scorers,omitempty"`
}

func (c *ScoringConfig) SetDefaults() {
	if c.VetoOnFirst == nil {
		v := true
		c.VetoOnFirst = &v
	}
	if c.WeightTolerance == 0 {
		c.WeightTolerance = 0.01
	}
	if c.AlternativesCount == 0 {
		c.AlternativesCount = 3
	}
	if c.DepthMetric == "" {
		c.DepthMetric = "proxy"
	}
	if c.Scorers == nil {
		c.Scorers = DefaultScorerConfigs()
	}
}

// DefaultScorerConfigs returns the shipped scorer set with weights summing
// to 1.0.
func DefaultScorerConfigs() map[string]ScorerConfig {
	return map[string]ScorerConfig{
		// Tier 1 (no weights)
		"knowledge_ceiling":      {},
		"element_exhausted":      {},
		"recent_redundancy":      {},
		"clarification_veto":     {},
		"consecutive_exhaustion": {},
		"question_repetition":    {},
		// Tier 2
		"coverage_gap":          {Weight: 0.20},
		"ambiguity":             {Weight: 0.15},
		"depth_breadth_balance": {Weight: 0.20},
		"engagement":            {Weight: 0.10},
		"strategy_diversity":    {Weight: 0.10},
		"novelty":               {Weight: 0.10},
		"saturation":            {Weight: 0.15},
		"cluster_saturation":    {Enabled: BoolPtr(false), Weight: 0.10},
		"contrast_opportunity":  {Enabled: BoolPtr(false), Weight: 0.10},
		"peripheral_readiness":  {Enabled: BoolPtr(false), Weight: 0.10},
	}
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`

	// Metrics enables the prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// MethodologyConfig locates methodology and concept definitions.
type MethodologyConfig struct {
	// Dir containing methodology YAML files.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Concepts is the concept catalog YAML path.
	Concepts string `yaml:"concepts,omitempty" json:"concepts,omitempty"`
}

func (c *MethodologyConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "methodologies"
	}
	if c.Concepts == "" {
		c.Concepts = "methodologies/concepts.yaml"
	}
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// Config is the root configuration object.
type Config struct {
	Server      ServerConfig      `yaml:"server,omitempty" json:"server,omitempty"`
	Logging     LoggingConfig     `yaml:"logging,omitempty" json:"logging,omitempty"`
	Storage     StorageConfig     `yaml:"storage,omitempty" json:"storage,omitempty"`
	Vector      VectorConfig      `yaml:"vector,omitempty" json:"vector,omitempty"`
	Embedder    EmbedderConfig    `yaml:"embedder,omitempty" json:"embedder,omitempty"`
	LLM         LLMClientsConfig  `yaml:"llm,omitempty" json:"llm,omitempty"`
	Methodology MethodologyConfig `yaml:"methodology,omitempty" json:"methodology,omitempty"`
	Interview   InterviewConfig   `yaml:"interview,omitempty" json:"interview,omitempty"`
	Scoring     ScoringConfig     `yaml:"scoring,omitempty" json:"scoring,omitempty"`
}

// SetDefaults applies defaults across the whole tree.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Storage.SetDefaults()
	c.Vector.SetDefaults()
	c.Embedder.SetDefaults()
	c.LLM.SetDefaults()
	c.Methodology.SetDefaults()
	c.Interview.SetDefaults()
	c.Scoring.SetDefaults()
}

// Validate checks the whole tree. The tier-2 weight-sum check lives in the
// scoring engine (it depends on which scorers are tier-2); everything
// checkable without that knowledge is checked here.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Interview.Validate(); err != nil {
		return err
	}
	switch c.Scoring.DepthMetric {
	case "proxy", "chain":
	default:
		return fmt.Errorf("invalid scoring.depth_metric: %s (valid: proxy, chain)", c.Scoring.DepthMetric)
	}
	return nil
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
