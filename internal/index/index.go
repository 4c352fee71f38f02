// Package index builds an in-memory inverted index over crawled pages and
// answers token (AND) and phrase (substring) queries against it.
package index

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

// Field names one indexed part of a page.
type Field string

// Indexed fields.
const (
	FieldTitle Field = "title"
	FieldMeta  Field = "meta"
	FieldText  Field = "text"
	FieldAlt   Field = "alt"
)

// AllFields lists every indexed field in index order.
var AllFields = []Field{FieldTitle, FieldMeta, FieldText, FieldAlt}

const (
	// SnippetRadius is the number of characters kept on each side of a match.
	SnippetRadius = 40
	// DefaultMaxResults bounds a search when the query leaves it unset.
	DefaultMaxResults = 500
	maxSnippets       = 3
	snippetSeparator  = "; "
)

// ErrUnknownField is returned for a query naming a field that is not indexed.
var ErrUnknownField = errors.New("unknown search field")

var wordRE = regexp.MustCompile(`[\p{L}\p{N}_](?:[\p{L}\p{N}_'-]*[\p{L}\p{N}_])?`)

// Posting is one token occurrence.
type Posting struct {
	URL     string `json:"url"`
	Field   Field  `json:"field"`
	Snippet string `json:"snippet"`
}

type document struct {
	page   crawler.PageRecord
	fields map[Field]string
}

// Index is safe for concurrent searches. Build replaces the whole structure.
type Index struct {
	mu       sync.RWMutex
	postings map[string][]Posting
	docs     map[string]*document
	order    []string
}

// New returns an empty index.
func New() *Index {
	return &Index{
		postings: make(map[string][]Posting),
		docs:     make(map[string]*document),
	}
}

// Build discards the current contents and indexes pages from scratch.
// Pages are processed in URL order so the same set always yields the same
// posting lists. A repeated URL keeps its last record.
func (ix *Index) Build(pages []crawler.PageRecord) {
	docs := make(map[string]*document, len(pages))
	for _, p := range pages {
		docs[p.URL] = &document{
			page: p,
			fields: map[Field]string{
				FieldTitle: p.Title,
				FieldMeta:  p.MetaDescription,
				FieldText:  p.BodyText,
				FieldAlt:   p.AltText(),
			},
		}
	}
	order := make([]string, 0, len(docs))
	for u := range docs {
		order = append(order, u)
	}
	sort.Strings(order)

	postings := make(map[string][]Posting)
	for _, u := range order {
		doc := docs[u]
		for _, f := range AllFields {
			content := doc.fields[f]
			for _, loc := range wordRE.FindAllStringIndex(content, -1) {
				token := strings.ToLower(content[loc[0]:loc[1]])
				postings[token] = append(postings[token], Posting{
					URL:     u,
					Field:   f,
					Snippet: snippet(content, loc[0], loc[1]),
				})
			}
		}
	}

	ix.mu.Lock()
	ix.postings = postings
	ix.docs = docs
	ix.order = order
	ix.mu.Unlock()
}

// Len reports the number of indexed pages.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.order)
}

// Tokens reports the number of distinct tokens.
func (ix *Index) Tokens() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.postings)
}

// Postings returns a copy of the posting list for token.
func (ix *Index) Postings(token string) []Posting {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]Posting(nil), ix.postings[strings.ToLower(token)]...)
}

// Tokenize splits s into lower-cased word tokens.
func Tokenize(s string) []string {
	words := wordRE.FindAllString(s, -1)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// ParseFields converts field names into Fields. An empty input selects all.
func ParseFields(names []string) ([]Field, error) {
	var out []Field
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		f := Field(name)
		if !validField(f) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		out = append(out, f)
	}
	return out, nil
}

func validField(f Field) bool {
	for _, known := range AllFields {
		if f == known {
			return true
		}
	}
	return false
}

// snippet returns the text within SnippetRadius characters of
// content[start:end], trimmed, with newlines folded to spaces.
func snippet(content string, start, end int) string {
	s := start
	for i := 0; i < SnippetRadius && s > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(content[:s])
		s -= size
	}
	e := end
	for i := 0; i < SnippetRadius && e < len(content); i++ {
		_, size := utf8.DecodeRuneInString(content[e:])
		e += size
	}
	out := strings.TrimSpace(content[s:e])
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, out)
}

// foldRunes lower-cases rune by rune so positions line up with the source.
func foldRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}
