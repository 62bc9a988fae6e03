package embed

// OpenAI embedding models.
const (
	// ModelOpenAI3Small is the small embedding model (1536 dims, customizable).
	ModelOpenAI3Small = "text-embedding-3-small"

	// ModelOpenAI3Large is the large embedding model (3072 dims, customizable).
	ModelOpenAI3Large = "text-embedding-3-large"

	// ModelOpenAIAda002 is the legacy model (1536 dims, fixed).
	ModelOpenAIAda002 = "text-embedding-ada-002"
)

const (
	openAIDefaultDim   = 1536
	openAIDefaultModel = ModelOpenAI3Small
)

// OpenAI implements [Embedder] using the OpenAI embeddings API.
//
// This can also be used with any OpenAI-compatible provider (e.g.
// SiliconFlow) by setting WithBaseURL.
type OpenAI struct {
	apiClient
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embedder.
//
// The apiKey is required and can be obtained from:
// https://platform.openai.com/api-keys
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	cfg := defaultConfig()
	cfg.model = openAIDefaultModel
	cfg.dim = openAIDefaultDim
	for _, o := range opts {
		o(&cfg)
	}
	return &OpenAI{newAPIClient(apiKey, cfg, true)}
}
