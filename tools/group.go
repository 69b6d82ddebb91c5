package tools

import "fmt"

// Group is a capability group. Each tool belongs to exactly one.
type Group string

const (
	GroupReport   Group = "report"
	GroupResearch Group = "research"
	GroupChat     Group = "chat"
	GroupVision   Group = "vision"
)

// AllGroups is the registration order used for the merged registry.
// Later groups shadow earlier ones.
var AllGroups = []Group{GroupReport, GroupResearch, GroupChat, GroupVision}

// IsValid returns true if the group is known.
func (g Group) IsValid() bool {
	switch g {
	case GroupReport, GroupResearch, GroupChat, GroupVision:
		return true
	default:
		return false
	}
}

// ParseGroup converts a string to a Group.
func ParseGroup(s string) (Group, error) {
	g := Group(s)
	if !g.IsValid() {
		return "", fmt.Errorf("unknown tool group: %s", s)
	}
	return g, nil
}

// Builder constructs the tools of one group.
type Builder func() []Tool

// GroupSet holds the builder of each group. Registries are built from it on
// demand so no two invocations share tool instances.
type GroupSet map[Group]Builder

// Tools builds the tools of g. An unset group has no tools.
func (gs GroupSet) Tools(g Group) []Tool {
	build, ok := gs[g]
	if !ok || build == nil {
		return nil
	}
	return build()
}

// Registry builds a fresh registry from the given groups, or from AllGroups
// when none are named.
func (gs GroupSet) Registry(groups ...Group) *Registry {
	if len(groups) == 0 {
		groups = AllGroups
	}
	lists := make([][]Tool, 0, len(groups))
	for _, g := range groups {
		lists = append(lists, gs.Tools(g))
	}
	return NewRegistry(lists...)
}

// Static returns a Builder that always yields tools.
func Static(tools ...Tool) Builder {
	return func() []Tool { return tools }
}
