package llm

import (
	"context"
	"fmt"
)

// MultiClient routes requests to a provider based on the requested model.
// Requests naming no model, or a model with no registered provider, go to
// the fallback generator.
type MultiClient struct {
	clients  map[string]Generator // provider name → client
	models   map[string]string    // model name → provider name
	fallback Generator
}

// NewMultiClient creates a client that routes to multiple providers.
func NewMultiClient(fallback Generator) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Generator),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client under its provider name.
func (m *MultiClient) AddProvider(client Generator) {
	m.clients[client.Name()] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

// clientFor returns the appropriate client for a model.
func (m *MultiClient) clientFor(model string) Generator {
	if provider, ok := m.models[model]; ok {
		if client, ok := m.clients[provider]; ok {
			return client
		}
	}
	return m.fallback
}

// Name reports the fallback provider's name.
func (m *MultiClient) Name() string {
	if m.fallback != nil {
		return m.fallback.Name()
	}
	return "multi"
}

// Generate sends the request to the provider registered for req.Model.
func (m *MultiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	client := m.clientFor(req.Model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", req.Model)
	}
	return client.Generate(ctx, req)
}
