package embed

const (
	vllmDefaultBaseURL = "http://localhost:8000/v1"
	vllmDefaultDim     = 1024
	vllmDefaultModel   = ModelQwen3Embedding06B
)

// VLLM implements [Embedder] against a self-hosted vLLM server's
// OpenAI-compatible embedding endpoint. The dimensions parameter is
// never sent because served models have fixed dimensionality;
// WithDimension only declares what Dimension() reports.
type VLLM struct {
	apiClient
}

var _ Embedder = (*VLLM)(nil)

// NewVLLM creates a vLLM embedder. The apiKey may be empty when the
// server does not enforce one.
func NewVLLM(apiKey string, opts ...Option) *VLLM {
	cfg := defaultConfig()
	cfg.model = vllmDefaultModel
	cfg.dim = vllmDefaultDim
	cfg.baseURL = vllmDefaultBaseURL
	for _, o := range opts {
		o(&cfg)
	}
	return &VLLM{newAPIClient(apiKey, cfg, false)}
}
