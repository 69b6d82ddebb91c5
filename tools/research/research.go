// Package research provides the research tool group: internal knowledge
// search and web search.
package research

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/reportgen/knowledge"
	"github.com/c360studio/reportgen/tools"
)

// Tool names.
const (
	ToolSearchInternalKnowledge = "searchInternalKnowledge"
	ToolSearchWeb               = "searchWeb"
)

// Result texts the model sees.
const (
	MatchHeader    = "[MEMORY MATCH FOUND]:"
	NoMatches      = "No matches found."
	NoWebResults   = "No web results found."
	matchSeparator = "\n---\n"
	knowledgeLimit = 3
)

var uuidRe = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)

// StripIDs removes UUIDs from a query so identifiers do not skew matching.
func StripIDs(query string) string {
	return strings.Join(strings.Fields(uuidRe.ReplaceAllString(query, " ")), " ")
}

// Tools builds the research group.
type Tools struct {
	knowledge knowledge.Store
	web       *WebSearcher
}

// New creates the research tool group. Either dependency may be nil, in
// which case its tool is left out.
func New(store knowledge.Store, web *WebSearcher) *Tools {
	return &Tools{knowledge: store, web: web}
}

// Builder returns the group builder for tools.GroupSet.
func (t *Tools) Builder() tools.Builder {
	return t.List
}

// List returns the research tools.
func (t *Tools) List() []tools.Tool {
	var out []tools.Tool
	if t.knowledge != nil {
		out = append(out, tools.New(ToolSearchInternalKnowledge,
			"Search the internal knowledge base of codes, standards and past research.",
			tools.ObjectSchema(map[string]any{"query": tools.StringProp("What to look for")}, "query"),
			t.searchInternalKnowledge))
	}
	if t.web != nil {
		out = append(out, tools.New(ToolSearchWeb,
			"Search the web for current information. Findings are saved to the knowledge base.",
			tools.ObjectSchema(map[string]any{"query": tools.StringProp("Search query")}, "query"),
			t.searchWeb))
	}
	return out
}

func (t *Tools) searchInternalKnowledge(ctx context.Context, args map[string]any) (any, error) {
	query := StripIDs(tools.StringArg(args, "query"))
	if query == "" {
		return NoMatches, nil
	}
	matches, err := t.knowledge.Search(ctx, query, knowledgeLimit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	if len(matches) == 0 {
		return NoMatches, nil
	}

	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, fmt.Sprintf("[Source: %s]\n%s", m.Source, m.Excerpt))
	}
	return MatchHeader + "\n" + strings.Join(blocks, matchSeparator), nil
}

func (t *Tools) searchWeb(ctx context.Context, args map[string]any) (any, error) {
	query := strings.TrimSpace(tools.StringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.web.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return NoWebResults, nil
	}
	t.web.SaveInBackground(ctx, results)

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nURL: %s\n%s", r.Title, r.URL, r.Text))
	}
	return strings.Join(blocks, matchSeparator), nil
}
