package index

import (
	"fmt"
	"sort"
	"strings"
)

// Mode selects how a query is matched.
type Mode string

// Search modes. ModeAuto picks phrase matching for multi-word input.
const (
	ModeAuto   Mode = "auto"
	ModeToken  Mode = "token"
	ModePhrase Mode = "phrase"
)

// ParseMode validates a mode name; empty means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeToken, ModePhrase:
		return m, nil
	default:
		return "", fmt.Errorf("unknown search mode %q", s)
	}
}

// Resolve turns ModeAuto into a concrete mode for text.
func (m Mode) Resolve(text string) Mode {
	if m == ModePhrase || m == ModeToken {
		return m
	}
	if strings.Contains(strings.TrimSpace(text), " ") {
		return ModePhrase
	}
	return ModeToken
}

// Query describes one search.
type Query struct {
	Text string
	// Fields restricts matching; empty searches every field.
	Fields []Field
	Mode   Mode
	// MaxResults caps the rows returned; <= 0 means DefaultMaxResults.
	MaxResults int
}

// Result is one search hit. Field is set only in phrase mode, where each
// (url, field) pair is its own row.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Field    Field  `json:"field,omitempty"`
	Snippets string `json:"snippets"`
	Score    int    `json:"score"`
}

// Search answers q. An unknown field is an error; a query with no tokens
// yields no results.
func (ix *Index) Search(q Query) ([]Result, error) {
	fields := q.Fields
	if len(fields) == 0 {
		fields = AllFields
	}
	for _, f := range fields {
		if !validField(f) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
		}
	}
	limit := q.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var results []Result
	if q.Mode.Resolve(q.Text) == ModePhrase {
		results = ix.searchPhrase(strings.TrimSpace(q.Text), fields)
	} else {
		results = ix.searchTokens(Tokenize(q.Text), fields)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].URL < results[j].URL
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (ix *Index) searchPhrase(text string, fields []Field) []Result {
	needle := foldRunes(text)
	if len(needle) == 0 {
		return []Result{}
	}
	results := []Result{}
	for _, u := range ix.order {
		doc := ix.docs[u]
		for _, f := range fields {
			content := doc.fields[f]
			first, count := matchRunes(foldRunes(content), needle)
			if count == 0 {
				continue
			}
			rs := []rune(content)
			start := len(string(rs[:first]))
			end := start + len(string(rs[first:first+len(needle)]))
			results = append(results, Result{
				URL:      u,
				Title:    doc.page.Title,
				Field:    f,
				Snippets: snippet(content, start, end),
				Score:    count,
			})
		}
	}
	return results
}

func (ix *Index) searchTokens(tokens []string, fields []Field) []Result {
	tokens = dedupe(tokens)
	if len(tokens) == 0 {
		return []Result{}
	}
	allowed := make(map[Field]bool, len(fields))
	for _, f := range fields {
		allowed[f] = true
	}

	var hits map[string][]Posting
	for i, token := range tokens {
		next := make(map[string][]Posting)
		for _, p := range ix.postings[token] {
			if allowed[p.Field] && (i == 0 || hits[p.URL] != nil) {
				next[p.URL] = append(next[p.URL], p)
			}
		}
		if i > 0 {
			for u, prev := range hits {
				if more, ok := next[u]; ok {
					next[u] = append(prev, more...)
				}
			}
		}
		hits = next
		if len(hits) == 0 {
			return []Result{}
		}
	}

	results := make([]Result, 0, len(hits))
	for u, postings := range hits {
		snippets := make([]string, 0, maxSnippets)
		for _, p := range postings {
			if len(snippets) == maxSnippets {
				break
			}
			snippets = append(snippets, p.Snippet)
		}
		results = append(results, Result{
			URL:      u,
			Title:    ix.docs[u].page.Title,
			Snippets: strings.Join(snippets, snippetSeparator),
			Score:    len(postings),
		})
	}
	return results
}

// matchRunes returns the first index of needle in hay and the number of
// non-overlapping occurrences.
func matchRunes(hay, needle []rune) (int, int) {
	first, count := -1, 0
	for i := 0; i+len(needle) <= len(hay); {
		if runesEqual(hay[i:i+len(needle)], needle) {
			if first < 0 {
				first = i
			}
			count++
			i += len(needle)
			continue
		}
		i++
	}
	return first, count
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
