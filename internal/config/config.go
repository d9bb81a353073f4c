// Package config loads a single .env-style environment file. Recognized
// keys are enumerated below; any key outside that set is ignored with a
// warning.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryd/internal/modegate"
)

// Config is the typed configuration the engine is constructed from.
type Config struct {
	DataRoot string

	Mode Mode

	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string

	EmbedBaseURL string
	EmbedModel   string
	EmbedAPIKey  string
	EmbedDim     int // 0 means "use the model's known dimension"

	RerankBackend string // "builtin" (or empty) or "llm"; rerankprovider.New rejects any other name

	// ContradictionStrategy forces one resolution for every detected
	// contradiction ("supersede", "coexist", "reject", "manual"); the
	// default "auto" keeps the per-kind policy.
	ContradictionStrategy string

	DedupJaccardThreshold float64
	DedupSemanticHigh     float64
	DedupSemanticLow      float64

	VectorLite bool // when true, the vector index is absent entirely

	// ForeshadowingOverride, when non-nil, overrides the mode-derived
	// default for modegate.Gate.ForeshadowingEnabled.
	ForeshadowingOverride *bool

	// LayeredRetrieval turns on the opt-in eleven-layer retrieval funnel
	// (bloom pre-filter, graph BFS expansion, LLM relevance filter) on top
	// of the default parallel-recall-plus-fusion pipeline.
	LayeredRetrieval bool
}

// Mode wraps modegate.Mode so callers needn't import that package just to
// read config.
type Mode = modegate.Mode

// Default returns a Config with sane production defaults: dedup
// thresholds and the builtin rerank backend.
func Default() Config {
	return Config{
		DataRoot:              "./memoryd-data",
		Mode:                  modegate.ModeGeneral,
		RerankBackend:         "builtin",
		ContradictionStrategy: "auto",
		DedupJaccardThreshold: 0.85,
		DedupSemanticHigh:     0.90,
		DedupSemanticLow:      0.70,
	}
}

// recognizedKeys is the authoritative set of environment keys this engine
// understands. Any other key present in the loaded file is ignored with a
// warning.
var recognizedKeys = map[string]bool{
	"MEMORYD_DATA_ROOT":              true,
	"MEMORYD_MODE":                   true,
	"MEMORYD_LLM_BASE_URL":           true,
	"MEMORYD_LLM_MODEL":              true,
	"MEMORYD_LLM_API_KEY":            true,
	"MEMORYD_EMBED_BASE_URL":         true,
	"MEMORYD_EMBED_MODEL":            true,
	"MEMORYD_EMBED_API_KEY":          true,
	"MEMORYD_EMBED_DIM":              true,
	"MEMORYD_RERANK_BACKEND":         true,
	"MEMORYD_CONTRADICTION_STRATEGY": true,
	"MEMORYD_DEDUP_JACCARD":          true,
	"MEMORYD_DEDUP_SEMANTIC_HIGH":    true,
	"MEMORYD_DEDUP_SEMANTIC_LOW":     true,
	"MEMORYD_VECTOR_LITE":            true,
	"MEMORYD_FORESHADOWING_ENABLED":  true,
	"MEMORYD_LAYERED_RETRIEVAL":      true,
}

// Template returns the canonical default environment file: every
// recognized key, set to its default where one exists and commented out
// otherwise. Installers
// must write these exact bytes on every platform.
func Template() string {
	return `# memoryd configuration
MEMORYD_DATA_ROOT=./memoryd-data
MEMORYD_MODE=general
#MEMORYD_LLM_BASE_URL=
#MEMORYD_LLM_MODEL=
#MEMORYD_LLM_API_KEY=
#MEMORYD_EMBED_BASE_URL=
#MEMORYD_EMBED_MODEL=
#MEMORYD_EMBED_API_KEY=
#MEMORYD_EMBED_DIM=
MEMORYD_RERANK_BACKEND=builtin
MEMORYD_CONTRADICTION_STRATEGY=auto
MEMORYD_DEDUP_JACCARD=0.85
MEMORYD_DEDUP_SEMANTIC_HIGH=0.90
MEMORYD_DEDUP_SEMANTIC_LOW=0.70
MEMORYD_VECTOR_LITE=false
#MEMORYD_FORESHADOWING_ENABLED=
MEMORYD_LAYERED_RETRIEVAL=false
`
}

// Load reads path (an .env-style file) and overlays recognized keys onto
// Default(). Unrecognized keys are logged at warn via log and otherwise
// ignored. A missing file is not an error: the defaults apply.
func Load(path string, log zerolog.Logger) (Config, error) {
	cfg := Default()

	env, err := godotenv.Read(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	for k, v := range env {
		if !recognizedKeys[k] {
			log.Warn().Str("key", k).Msg("config: ignoring unrecognized key")
			continue
		}
		applyKey(&cfg, k, v, log)
	}
	return cfg, nil
}

func applyKey(cfg *Config, key, value string, log zerolog.Logger) {
	switch key {
	case "MEMORYD_DATA_ROOT":
		cfg.DataRoot = value
	case "MEMORYD_MODE":
		cfg.Mode = modegate.ParseMode(value)
	case "MEMORYD_LLM_BASE_URL":
		cfg.LLMBaseURL = value
	case "MEMORYD_LLM_MODEL":
		cfg.LLMModel = value
	case "MEMORYD_LLM_API_KEY":
		cfg.LLMAPIKey = value
	case "MEMORYD_EMBED_BASE_URL":
		cfg.EmbedBaseURL = value
	case "MEMORYD_EMBED_MODEL":
		cfg.EmbedModel = value
	case "MEMORYD_EMBED_API_KEY":
		cfg.EmbedAPIKey = value
	case "MEMORYD_EMBED_DIM":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.EmbedDim = n
		} else {
			log.Warn().Str("key", key).Str("value", value).Msg("config: invalid integer")
		}
	case "MEMORYD_RERANK_BACKEND":
		cfg.RerankBackend = value
	case "MEMORYD_CONTRADICTION_STRATEGY":
		cfg.ContradictionStrategy = value
	case "MEMORYD_DEDUP_JACCARD":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.DedupJaccardThreshold = f
		}
	case "MEMORYD_DEDUP_SEMANTIC_HIGH":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.DedupSemanticHigh = f
		}
	case "MEMORYD_DEDUP_SEMANTIC_LOW":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.DedupSemanticLow = f
		}
	case "MEMORYD_VECTOR_LITE":
		cfg.VectorLite = strings.EqualFold(value, "true") || value == "1"
	case "MEMORYD_FORESHADOWING_ENABLED":
		b := strings.EqualFold(value, "true") || value == "1"
		cfg.ForeshadowingOverride = &b
	case "MEMORYD_LAYERED_RETRIEVAL":
		cfg.LayeredRetrieval = strings.EqualFold(value, "true") || value == "1"
	}
}
