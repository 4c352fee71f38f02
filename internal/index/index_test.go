package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

func samplePages() []crawler.PageRecord {
	return []crawler.PageRecord{
		{URL: "https://example.com/a", Title: "Alpha launch notes", BodyText: "The beta program opens next week."},
		{URL: "https://example.com/b", Title: "Alpha only", BodyText: "Nothing else to see here."},
		{
			URL:      "https://example.com/contact",
			Title:    "Contact Us Today",
			BodyText: "Call us or contact the team.",
			Images:   []crawler.Image{{Src: "/team.png", Alt: "Our team"}, {Src: "/x.png"}},
		},
		{URL: "https://example.com/words", Title: "Us and them", BodyText: "Please contact support; us folks answer fast."},
	}
}

func TestTokenSearchIntersectsTokens(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Build(samplePages())

	results, err := ix.Search(Query{Text: "alpha beta", Mode: ModeToken})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.com/a", results[0].URL)
	assert.Equal(t, 2, results[0].Score)
	assert.Contains(t, results[0].Snippets, "Alpha launch notes")
	assert.Contains(t, results[0].Snippets, "beta program")
	assert.Contains(t, results[0].Snippets, "; ")
}

func TestTokenSearchOrdersByScore(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Build(samplePages())

	results, err := ix.Search(Query{Text: "contact", Mode: ModeToken})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/contact", results[0].URL)
	assert.Equal(t, 2, results[0].Score)
	assert.Equal(t, "https://example.com/words", results[1].URL)
	assert.Equal(t, 1, results[1].Score)
	assert.Equal(t, "Contact Us Today", results[0].Title)
}

func TestTokenSearchSnippetCap(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Build([]crawler.PageRecord{{URL: "https://example.com/", BodyText: "go go go go go"}})
	results, err := ix.Search(Query{Text: "GO"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 5, results[0].Score)
	assert.Len(t, strings.Split(results[0].Snippets, "; "), 3)
}

func TestPhraseSearchTitle(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Build(samplePages())

	results, err := ix.Search(Query{Text: "contact us", Fields: []Field{FieldTitle}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.com/contact", results[0].URL)
	assert.Equal(t, FieldTitle, results[0].Field)
	assert.Equal(t, "Contact Us Today", results[0].Snippets)
}

func TestPhraseSearchOneHitPerField(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Build([]crawler.PageRecord{{
		URL:             "https://example.com/",
		Title:           "Green tea",
		MetaDescription: "green tea and more green tea",
	}})
	results, err := ix.Search(Query{Text: "green tea", Mode: ModePhrase})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, FieldMeta, results[0].Field)
	assert.Equal(t, 2, results[0].Score)
	assert.Equal(t, FieldTitle, results[1].Field)
}

func TestSearchAltField(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Build(samplePages())
	results, err := ix.Search(Query{Text: "team", Fields: []Field{FieldAlt}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Our team", results[0].Snippets)
}

func TestSearchEdgeCases(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Build(samplePages())

	results, err := ix.Search(Query{Text: "  ...  "})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = ix.Search(Query{Text: "", Mode: ModePhrase})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = ix.Search(Query{Text: "alpha", Fields: []Field{"body"}})
	require.ErrorIs(t, err, ErrUnknownField)

	results, err = ix.Search(Query{Text: "alpha", MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestBuildIsDeterministic(t *testing.T) {
	t.Parallel()

	pages := samplePages()
	reversed := make([]crawler.PageRecord, len(pages))
	for i, p := range pages {
		reversed[len(pages)-1-i] = p
	}

	a, b := New(), New()
	a.Build(pages)
	b.Build(reversed)
	require.Equal(t, a.Tokens(), b.Tokens())
	for _, token := range []string{"alpha", "contact", "us", "team", "the"} {
		assert.Equal(t, a.Postings(token), b.Postings(token), token)
	}

	a.Build(pages)
	assert.Equal(t, b.Postings("contact"), a.Postings("contact"))
	assert.Equal(t, 4, a.Len())
}

func TestBuildReplacesContents(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Build(samplePages())
	ix.Build([]crawler.PageRecord{{URL: "https://example.com/z", Title: "Zeta"}})
	assert.Empty(t, ix.Postings("alpha"))
	assert.Len(t, ix.Postings("zeta"), 1)
}

func TestTokenizeAndSnippet(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"don't", "stop", "e-mail", "café", "42"}, Tokenize("Don't STOP -- e-mail café 42!"))

	long := strings.Repeat("x", 60) + " needle " + strings.Repeat("y", 60)
	start := strings.Index(long, "needle")
	got := snippet(long, start, start+len("needle"))
	assert.Equal(t, strings.Repeat("x", 39)+" needle "+strings.Repeat("y", 39), got)

	assert.Equal(t, "line one line two", snippet("line one\nline two", 0, 4))
	assert.Equal(t, "héllo wörld", snippet("héllo wörld", 7, 13))
}

func TestParseModeAndFields(t *testing.T) {
	t.Parallel()

	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)
	assert.Equal(t, ModePhrase, m.Resolve("contact us"))
	assert.Equal(t, ModeToken, m.Resolve("contact"))
	assert.Equal(t, ModeToken, ModeToken.Resolve("alpha beta"))
	_, err = ParseMode("fuzzy")
	require.Error(t, err)

	fields, err := ParseFields([]string{"Title", " text ", ""})
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldTitle, FieldText}, fields)
	_, err = ParseFields([]string{"headings"})
	require.ErrorIs(t, err, ErrUnknownField)
}
