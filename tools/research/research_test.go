package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/c360studio/reportgen/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKnowledge(t *testing.T) *knowledge.FileStore {
	t.Helper()
	store, err := knowledge.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestStripIDs(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "no ids", query: "fire rated walls", want: "fire rated walls"},
		{name: "uuid removed", query: "slab 3f2504e0-4f89-11d3-9a0c-0305e82c3301 cracks", want: "slab cracks"},
		{name: "upper case uuid", query: "3F2504E0-4F89-11D3-9A0C-0305E82C3301", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripIDs(tt.query))
		})
	}
}

func TestSearchInternalKnowledge(t *testing.T) {
	store := newKnowledge(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, knowledge.Document{
		Source:  "https://codes.example/ibc-703",
		Title:   "Fire resistance",
		Content: "Fire rated assemblies require tested joints.",
	}))

	tool := New(store, nil).List()
	require.Len(t, tool, 1)
	assert.Equal(t, ToolSearchInternalKnowledge, tool[0].Name())

	t.Run("match", func(t *testing.T) {
		out, err := tool[0].Execute(ctx, map[string]any{"query": "fire rated joints"})
		require.NoError(t, err)
		text := out.(string)
		assert.Contains(t, text, MatchHeader)
		assert.Contains(t, text, "[Source: ")
		assert.Contains(t, text, "tested joints")
	})

	t.Run("no match", func(t *testing.T) {
		out, err := tool[0].Execute(ctx, map[string]any{"query": "plumbing"})
		require.NoError(t, err)
		assert.Equal(t, NoMatches, out)
	})

	t.Run("query of only ids", func(t *testing.T) {
		out, err := tool[0].Execute(ctx, map[string]any{"query": "3f2504e0-4f89-11d3-9a0c-0305e82c3301"})
		require.NoError(t, err)
		assert.Equal(t, NoMatches, out)
	})
}

func TestSearchWeb(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Egress Widths</title></head><body>
			<nav>Home | About</nav>
			<main><h1>Egress</h1><p>Corridors must be at least 44 inches wide.</p></main>
		</body></html>`))
	}))
	defer page.Close()

	var gotKey string
	var gotReq searchRequest
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(searchResponse{Results: []WebResult{
			{Title: "Stairs", URL: "https://codes.example/stairs", Text: "Risers max 7 inches."},
			{URL: page.URL},
		}})
	}))
	defer search.Close()

	store := newKnowledge(t)
	web := NewWebSearcher(search.URL, "secret", 2, WithKnowledge(store))
	tools := New(nil, web).List()
	require.Len(t, tools, 1)

	out, err := tools[0].Execute(context.Background(), map[string]any{"query": "egress width"})
	require.NoError(t, err)
	web.Wait()

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "egress width", gotReq.Query)
	assert.Equal(t, 2, gotReq.NumResults)

	text := out.(string)
	assert.Contains(t, text, "Title: Stairs")
	assert.Contains(t, text, "Title: Egress Widths", "title taken from fetched page")
	assert.Contains(t, text, "44 inches")
	assert.NotContains(t, text, "Home | About")

	matches, err := store.Search(context.Background(), "corridors inches", 3)
	require.NoError(t, err)
	require.NotEmpty(t, matches, "findings saved to knowledge")
	assert.Equal(t, "Egress Widths", matches[0].Title)
	assert.Contains(t, matches[0].Excerpt, "44 inches")
}

func TestSearchWeb_Errors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer failing.Close()

	tools := New(nil, NewWebSearcher(failing.URL, "", 0)).List()

	_, err := tools[0].Execute(context.Background(), map[string]any{"query": "anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")

	_, err = tools[0].Execute(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestSearchWeb_NoResults(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer empty.Close()

	tools := New(nil, NewWebSearcher(empty.URL, "", 3)).List()
	out, err := tools[0].Execute(context.Background(), map[string]any{"query": "x"})
	require.NoError(t, err)
	assert.Equal(t, NoWebResults, out)
}

func TestConverter_Convert(t *testing.T) {
	c := NewConverter()

	page, err := c.Convert([]byte(`<html><head><title> Guide </title><script>var x;</script></head>
		<body><header>Site</header><h2>Load Paths</h2><p>Beams carry <strong>dead</strong> loads.</p>
		<footer>Copyright</footer></body></html>`))
	require.NoError(t, err)

	assert.Equal(t, "Guide", page.Title)
	assert.Contains(t, page.Markdown, "## Load Paths")
	assert.Contains(t, page.Markdown, "**dead**")
	assert.NotContains(t, page.Markdown, "Copyright")
	assert.NotContains(t, page.Markdown, "Site")
}
