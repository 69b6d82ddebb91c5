// Package model provides capability-based model selection for the report workflow.
// Agents ask for a capability (planning, research, writing, vision) and the
// registry resolves it to configured endpoints with fallback chains.
package model

// Capability represents a semantic capability for model selection.
// Instead of specifying "claude-sonnet", agents specify "writing" or "vision".
type Capability string

const (
	// CapabilityPlanning is for routing decisions made by the supervisor.
	CapabilityPlanning Capability = "planning"

	// CapabilityResearch is for gathering facts with search tools.
	CapabilityResearch Capability = "research"

	// CapabilityWriting is for drafting report sections and plans.
	CapabilityWriting Capability = "writing"

	// CapabilityVision is for image and schematic analysis.
	CapabilityVision Capability = "vision"

	// CapabilityFast is for quick responses, simple tasks.
	CapabilityFast Capability = "fast"
)

// RoleCapabilities maps workflow agents to their default capability.
var RoleCapabilities = map[string]Capability{
	"supervisor": CapabilityPlanning,
	"researcher": CapabilityResearch,
	"writer":     CapabilityWriting,
	"vision":     CapabilityVision,
}

// CapabilityForRole returns the default capability for a given role.
// Returns CapabilityWriting as fallback for unknown roles.
func CapabilityForRole(role string) Capability {
	if c, ok := RoleCapabilities[role]; ok {
		return c
	}
	return CapabilityWriting
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityPlanning, CapabilityResearch, CapabilityWriting, CapabilityVision, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
