package backend

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the closed set of request kinds a backend call can carry.
// Keeping the set closed lets the client marshal each kind to the exact
// wire shape its endpoint expects, instead of passing untyped maps around.
type Request interface {
	kind() string
}

// ChatCompletion asks a backend for a chat completion via the
// OpenAI-compatible /v1/chat/completions endpoint.
type ChatCompletion struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

func (ChatCompletion) kind() string { return "chat_completion" }

// Embedding asks a backend for an embedding vector via /v1/embeddings.
type Embedding struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

func (Embedding) kind() string { return "embedding" }

// HealthProbe is a lightweight generate request used by the health monitor
// and warmup. It targets the Ollama-style /api/generate endpoint with a
// trivial prompt and no streaming.
type HealthProbe struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (HealthProbe) kind() string { return "health_probe" }

// Kind returns the wire-level kind of a request, for logs and metrics.
func Kind(r Request) string {
	if r == nil {
		return "unknown"
	}

	return r.kind()
}
