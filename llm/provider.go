package llm

import (
	"net/http"
	"slices"
	"sync"
)

// Provider adapts one wire format. Providers register themselves from init
// and are looked up by the endpoint's provider name.
type Provider interface {
	Name() string

	// BuildURL returns the completion URL for baseURL, or for the provider's
	// default host when baseURL is empty.
	BuildURL(baseURL string) string

	SetHeaders(req *http.Request)

	// BuildRequestBody encodes a completion request. A nil temperature and a
	// zero maxTokens leave the endpoint defaults; empty tools disable tool calling.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int,
		tools []ToolDefinition, toolChoice string) ([]byte, error)

	// ParseResponse decodes a completion. Tool calls keep emission order.
	ParseResponse(body []byte, model string) (*Response, error)
}

var (
	providersMu sync.RWMutex
	providers   = make(map[string]Provider)
)

// RegisterProvider registers p under p.Name(), replacing any earlier provider
// with that name.
func RegisterProvider(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[p.Name()] = p
}

// GetProvider returns the named provider, or nil.
func GetProvider(name string) Provider {
	providersMu.RLock()
	defer providersMu.RUnlock()
	return providers[name]
}

// ListProviders returns the registered provider names, sorted.
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
