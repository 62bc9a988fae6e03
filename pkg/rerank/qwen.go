package rerank

// Qwen reranker chat template. The model judges each (query, document)
// pair and its yes-token probability becomes the relevance score.
const (
	qwenQueryPrefix = "<|im_start|>system\nJudge whether the Document meets the requirements " +
		"based on the Query and the Instruct provided. Note that the answer can only be " +
		"\"yes\" or \"no\".<|im_end|>\n<|im_start|>user\n"

	qwenDocumentSuffix = "<|im_end|>\n<|im_start|>assistant\n<think>\n\n</think>\n\n"
)

// DefaultInstruction is the task description used by FormatQuery when
// none is given.
const DefaultInstruction = "Given a web search query, retrieve relevant passages that answer the query"

// FormatQuery renders a query in the Qwen reranker chat template. The
// instruction describes the retrieval task; empty falls back to
// DefaultInstruction.
func FormatQuery(query, instruction string) string {
	if instruction == "" {
		instruction = DefaultInstruction
	}
	return qwenQueryPrefix + "<Instruct>: " + instruction + "\n<Query>: " + query + "\n"
}

// FormatDocument renders a candidate document in the Qwen reranker
// chat template.
func FormatDocument(doc string) string {
	return "<Document>: " + doc + qwenDocumentSuffix
}
