package embed

// DeepInfra-hosted embedding models.
const (
	// ModelQwen3Embedding4B has 2560 native dimensions.
	ModelQwen3Embedding4B = "Qwen/Qwen3-Embedding-4B"

	// ModelQwen3Embedding8B has 4096 native dimensions.
	ModelQwen3Embedding8B = "Qwen/Qwen3-Embedding-8B"

	// ModelQwen3Embedding06B has 1024 native dimensions.
	ModelQwen3Embedding06B = "Qwen/Qwen3-Embedding-0.6B"
)

const (
	deepInfraBaseURL      = "https://api.deepinfra.com/v1/openai"
	deepInfraDefaultDim   = 2560
	deepInfraDefaultModel = ModelQwen3Embedding4B
)

// DeepInfra implements [Embedder] using DeepInfra's OpenAI-compatible
// embedding API. Qwen3 embedding models score better on retrieval
// queries when the inputs carry an instruction prefix; see
// WithInstruction.
type DeepInfra struct {
	apiClient
}

var _ Embedder = (*DeepInfra)(nil)

// NewDeepInfra creates a DeepInfra embedder.
//
// The apiKey is required and can be obtained from:
// https://deepinfra.com/dash/api_keys
func NewDeepInfra(apiKey string, opts ...Option) *DeepInfra {
	cfg := defaultConfig()
	cfg.model = deepInfraDefaultModel
	cfg.dim = deepInfraDefaultDim
	cfg.baseURL = deepInfraBaseURL
	for _, o := range opts {
		o(&cfg)
	}
	return &DeepInfra{newAPIClient(apiKey, cfg, true)}
}
