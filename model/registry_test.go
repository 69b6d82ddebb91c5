package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	if caps := r.ListCapabilities(); len(caps) != 5 {
		t.Errorf("expected 5 capabilities, got %d", len(caps))
	}
	if err := r.Validate(); err != nil {
		t.Errorf("default registry should validate: %v", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		capability Capability
		expected   string
	}{
		{CapabilityPlanning, "claude-sonnet"},
		{CapabilityResearch, "claude-sonnet"},
		{CapabilityWriting, "claude-sonnet"},
		{CapabilityVision, "gemini"},
		{CapabilityFast, "claude-haiku"},
		{Capability("unknown"), "claude-sonnet"},
	}

	for _, tt := range tests {
		t.Run(string(tt.capability), func(t *testing.T) {
			if got := r.Resolve(tt.capability); got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.capability, got, tt.expected)
			}
		})
	}
}

func TestRegistryGetFallbackChain(t *testing.T) {
	r := NewRegistry(
		map[Capability]*CapabilityConfig{
			CapabilityVision: {Preferred: []string{"a", "b"}, Fallback: []string{"c"}},
		},
		map[string]*EndpointConfig{},
	)

	chain := r.GetFallbackChain(CapabilityVision)
	if strings.Join(chain, ",") != "a,b,c" {
		t.Errorf("chain = %v, want [a b c]", chain)
	}

	if chain := r.GetFallbackChain(CapabilityFast); len(chain) != 1 || chain[0] != "default" {
		t.Errorf("unknown capability chain = %v, want [default]", chain)
	}
}

func TestRegistryForRole(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		role string
		want string
	}{
		{"supervisor", "claude-sonnet"},
		{"vision", "gemini"},
		{"unknown-role", "claude-sonnet"},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			if got := r.ForRole(tt.role); got != tt.want {
				t.Errorf("ForRole(%q) = %q, want %q", tt.role, got, tt.want)
			}
		})
	}
}

func TestRegistrySetters(t *testing.T) {
	r := NewRegistry(nil, nil)

	r.SetEndpoint("local", &EndpointConfig{Provider: "ollama", Model: "llama3.2"})
	r.SetCapability(CapabilityWriting, &CapabilityConfig{Preferred: []string{"local"}})
	r.SetDefault("local")

	if ep := r.GetEndpoint("local"); ep == nil || ep.Model != "llama3.2" {
		t.Fatalf("GetEndpoint(local) = %+v", ep)
	}
	if got := r.Resolve(CapabilityWriting); got != "local" {
		t.Errorf("Resolve(writing) = %q, want local", got)
	}
	if got := r.Resolve(CapabilityVision); got != "local" {
		t.Errorf("default = %q, want local", got)
	}
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry(
		map[Capability]*CapabilityConfig{
			CapabilityWriting: {Preferred: []string{"missing"}},
			CapabilityVision:  {},
		},
		map[string]*EndpointConfig{
			"broken": {Model: "x"},
		},
	)

	err := r.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{`unknown endpoint "missing"`, "no preferred models", "provider is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestRegistryJSONRoundtrip(t *testing.T) {
	original := NewDefaultRegistry()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var restored Registry
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got := restored.Resolve(CapabilityVision); got != "gemini" {
		t.Errorf("restored Resolve(vision) = %q", got)
	}
	if ep := restored.GetEndpoint("gemini"); ep == nil || !ep.SupportsVision {
		t.Errorf("restored gemini endpoint = %+v", ep)
	}
}
