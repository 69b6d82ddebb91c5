package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	return NewRegistry(
		map[Capability]*CapabilityConfig{
			CapabilityVision: {Preferred: []string{"primary"}, Fallback: []string{"backup"}},
		},
		map[string]*EndpointConfig{
			"primary": {Provider: "openai", Model: "p"},
			"backup":  {Provider: "openai", Model: "b"},
		},
	)
}

func TestCircuitBreaker(t *testing.T) {
	r := testRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})

	assert.True(t, r.IsEndpointAvailable("primary"))
	assert.Nil(t, r.GetEndpointHealth("primary"))

	r.MarkEndpointFailure("primary")
	assert.True(t, r.IsEndpointAvailable("primary"), "below threshold")

	r.MarkEndpointFailure("primary")
	assert.False(t, r.IsEndpointAvailable("primary"))

	health := r.GetEndpointHealth("primary")
	require.NotNil(t, health)
	assert.Equal(t, 2, health.FailureCount)
	assert.True(t, health.CircuitOpen)

	assert.Equal(t, []string{"backup"}, r.GetAvailableFallbackChain(CapabilityVision))

	r.MarkEndpointSuccess("primary")
	assert.True(t, r.IsEndpointAvailable("primary"))
	assert.Equal(t, []string{"primary", "backup"}, r.GetAvailableFallbackChain(CapabilityVision))
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	r := testRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})

	r.MarkEndpointFailure("primary")
	assert.False(t, r.IsEndpointAvailable("primary"))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, r.IsEndpointAvailable("primary"), "half-open after recovery timeout")
}

func TestGetAvailableFallbackChain_AllOpen(t *testing.T) {
	r := testRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	r.MarkEndpointFailure("primary")
	r.MarkEndpointFailure("backup")

	assert.Equal(t, []string{"primary", "backup"}, r.GetAvailableFallbackChain(CapabilityVision))
}

func TestResetEndpointHealth(t *testing.T) {
	r := testRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	r.MarkEndpointFailure("primary")
	r.ResetEndpointHealth("primary")

	assert.True(t, r.IsEndpointAvailable("primary"))
	assert.Nil(t, r.GetEndpointHealth("primary"))
}
