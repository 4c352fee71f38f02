package index_test

import (
	"fmt"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/index"
)

func ExampleIndex_Search() {
	ix := index.New()
	ix.Build([]crawler.PageRecord{
		{URL: "https://example.com/", Title: "Home", BodyText: "Welcome to the shop."},
		{URL: "https://example.com/contact", Title: "Contact Us", BodyText: "Email the shop team."},
	})

	results, err := ix.Search(index.Query{Text: "shop", Mode: index.ModeToken})
	if err != nil {
		panic(err)
	}
	for _, r := range results {
		fmt.Println(r.URL, r.Score)
	}
	// Output:
	// https://example.com/ 1
	// https://example.com/contact 1
}
