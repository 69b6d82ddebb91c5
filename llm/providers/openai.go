package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/reportgen/llm"
)

const openAIBaseURL = "https://api.openai.com/v1"

// openRouterHeaders maps attribution env vars to the headers OpenRouter reads.
var openRouterHeaders = []struct{ env, header string }{
	{"OPENROUTER_SITE_URL", "HTTP-Referer"},
	{"OPENROUTER_SITE_NAME", "X-Title"},
}

// OpenAIProvider talks to OpenAI or OpenRouter. The wire format, including
// tool calls and image parts, is the one OllamaProvider speaks; only the
// default host and the auth headers differ.
type OpenAIProvider struct {
	OllamaProvider
}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// BuildURL constructs the chat completions endpoint, defaulting to OpenAI.
func (o *OpenAIProvider) BuildURL(baseURL string) string {
	return chatCompletionsURL(baseURL, openAIBaseURL)
}

// SetHeaders sets the bearer token and any OpenRouter attribution.
func (o *OpenAIProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for _, h := range openRouterHeaders {
		if v := os.Getenv(h.env); v != "" {
			req.Header.Set(h.header, v)
		}
	}
}
