// Package knowledge indexes local reference documents and past research for
// the internal knowledge search tool.
package knowledge

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
)

// webDir is where saved research is written under the store root.
const webDir = "web"

// excerptLength bounds the text returned per match.
const excerptLength = 600

// Document is a unit of knowledge to save.
type Document struct {
	Source  string
	Title   string
	Content string
}

// Match is one search hit.
type Match struct {
	Source  string  `json:"source"`
	Title   string  `json:"title"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

// Store searches and extends a knowledge base.
type Store interface {
	Search(ctx context.Context, query string, limit int) ([]Match, error)
	Save(ctx context.Context, doc Document) error
}

type indexedDoc struct {
	title   string
	content string
	lower   string
}

// FileStore is a Store over text files under a root directory.
type FileStore struct {
	root     string
	patterns []string
	logger   *slog.Logger

	mu   sync.RWMutex
	docs map[string]indexedDoc
}

var _ Store = (*FileStore)(nil)

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore creates a store over root and indexes the files matching
// patterns. The root is created if missing.
func NewFileStore(root string, patterns []string, opts ...Option) (*FileStore, error) {
	if len(patterns) == 0 {
		patterns = []string{"**/*.md", "**/*.txt"}
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid knowledge pattern %q", p)
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge root: %w", err)
	}

	s := &FileStore{
		root:     root,
		patterns: patterns,
		logger:   slog.Default(),
		docs:     make(map[string]indexedDoc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the indexed directory.
func (s *FileStore) Root() string {
	return s.root
}

// Reindex rebuilds the index from disk.
func (s *FileStore) Reindex() error {
	fsys := os.DirFS(s.root)
	docs := make(map[string]indexedDoc)
	for _, pattern := range s.patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, rel := range matches {
			if _, seen := docs[rel]; seen {
				continue
			}
			doc, err := s.readDoc(rel)
			if err != nil {
				s.logger.Warn("Skipping unreadable knowledge file", "path", rel, "error", err)
				continue
			}
			docs[rel] = doc
		}
	}

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()

	s.logger.Debug("Knowledge index rebuilt", "root", s.root, "documents", len(docs))
	return nil
}

// Len returns the number of indexed documents.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *FileStore) readDoc(rel string) (indexedDoc, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		return indexedDoc{}, err
	}
	content := string(data)
	return indexedDoc{title: titleOf(rel, content), content: content, lower: strings.ToLower(content)}, nil
}

// matches reports whether a root-relative slash path is indexed by the store.
func (s *FileStore) matches(rel string) bool {
	return slices.ContainsFunc(s.patterns, func(p string) bool {
		ok, _ := doublestar.Match(p, rel)
		return ok
	})
}

// refresh re-reads one file, or drops it when it is gone.
func (s *FileStore) refresh(rel string) {
	doc, err := s.readDoc(rel)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		delete(s.docs, rel)
		return
	}
	s.docs[rel] = doc
}

// Search ranks documents by how often the query terms occur in them.
func (s *FileStore) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for rel, doc := range s.docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := 0.0
		for _, term := range terms {
			score += float64(strings.Count(doc.lower, term))
			if strings.Contains(strings.ToLower(doc.title), term) {
				score += 2
			}
		}
		if score == 0 {
			continue
		}
		matches = append(matches, Match{
			Source:  rel,
			Title:   doc.title,
			Excerpt: excerpt(doc.content, terms),
			Score:   score,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Source < matches[j].Source
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Save writes doc under the web directory and indexes it. Saving the same
// source again replaces the earlier copy.
func (s *FileStore) Save(_ context.Context, doc Document) error {
	if strings.TrimSpace(doc.Content) == "" {
		return nil
	}
	key := doc.Source
	if key == "" {
		key = doc.Title + doc.Content
	}
	sum := sha1.Sum([]byte(key))
	rel := webDir + "/" + hex.EncodeToString(sum[:])[:16] + ".md"

	var b strings.Builder
	if doc.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	}
	if doc.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n\n", doc.Source)
	}
	b.WriteString(doc.Content)
	b.WriteString("\n")

	path := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write knowledge file: %w", err)
	}
	s.refresh(rel)
	return nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true, "are": true,
	"this": true, "that": true, "from": true, "into": true, "about": true, "how": true,
}

// Terms splits a query into lowercase search terms of three or more runes.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var terms []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopWords[f] || slices.Contains(terms, f) {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// excerpt returns the paragraph with the most term hits.
func excerpt(content string, terms []string) string {
	best, bestHits := "", -1
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lower := strings.ToLower(para)
		hits := 0
		for _, t := range terms {
			hits += strings.Count(lower, t)
		}
		if hits > bestHits || (hits == bestHits && len(para) > len(best)) {
			best, bestHits = para, hits
		}
	}
	r := []rune(best)
	if len(r) > excerptLength {
		return string(r[:excerptLength]) + "..."
	}
	return best
}

// titleOf returns the first markdown heading, or the file name.
func titleOf(rel, content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		if line != "" {
			break
		}
	}
	return strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
}
