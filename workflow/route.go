package workflow

import (
	"fmt"
	"strings"
)

// RouteKey is the supervisor's routing decision.
type RouteKey string

// The closed routing vocabulary.
const (
	RouteResearch RouteKey = "research"
	RouteWrite    RouteKey = "write"
	RouteFinish   RouteKey = "FINISH"
)

// IsValid reports whether the key is part of the routing vocabulary.
func (r RouteKey) IsValid() bool {
	switch r {
	case RouteResearch, RouteWrite, RouteFinish:
		return true
	}
	return false
}

// String returns the string representation of the route.
func (r RouteKey) String() string {
	return string(r)
}

// ParseRoute converts a model-supplied value into a RouteKey.
// Surrounding whitespace is ignored; anything else must match exactly.
func ParseRoute(s string) (RouteKey, error) {
	r := RouteKey(strings.TrimSpace(s))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoute, s)
	}
	return r, nil
}
