// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"sort"
	"time"
)

// State represents the lifecycle state of a crawl.
type State string

// Crawl states reported by the controller.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateFinished State = "finished"
	StateStopped  State = "stopped"
)

// Terminal reports whether no further pages will be fetched in this state.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateStopped
}

// RobotsStatus captures how robots.txt was resolved for the seed host.
type RobotsStatus string

// Robots resolution outcomes.
const (
	RobotsStatusUnknown  RobotsStatus = ""
	RobotsStatusDisabled RobotsStatus = "disabled"
	RobotsStatusLoaded   RobotsStatus = "loaded"
	RobotsStatusFailOpen RobotsStatus = "fail_open"
)

// Image is a single <img> reference found on a page.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// HeadingCounts holds the number of h1..h6 elements; index 0 is h1.
type HeadingCounts [6]int

// Level returns the count for heading level 1..6, or 0 when out of range.
func (h HeadingCounts) Level(level int) int {
	if level < 1 || level > len(h) {
		return 0
	}
	return h[level-1]
}

// PageRecord is created for every fetched (or failed) page.
type PageRecord struct {
	URL             string        `json:"url"`
	FinalURL        string        `json:"final_url,omitempty"`
	StatusCode      int           `json:"status_code"`
	ContentType     string        `json:"content_type,omitempty"`
	FetchedAt       time.Time     `json:"fetched_at"`
	Latency         time.Duration `json:"latency_ns"`
	Title           string        `json:"title,omitempty"`
	MetaDescription string        `json:"meta_description,omitempty"`
	Canonical       string        `json:"canonical,omitempty"`
	Headings        HeadingCounts `json:"heading_counts"`
	Images          []Image       `json:"images,omitempty"`
	OutboundLinks   []string      `json:"outbound_links,omitempty"`
	BodyText        string        `json:"body_text,omitempty"`
	WordCount       int           `json:"word_count"`
	Indexable       bool          `json:"indexable"`
	ContentHash     string        `json:"content_hash,omitempty"`
	Attempts        int           `json:"attempts"`
	Error           string        `json:"error,omitempty"`
	ErrorKind       string        `json:"error_kind,omitempty"`
}

// Failed reports whether the record carries an error.
func (p PageRecord) Failed() bool {
	return p.Error != ""
}

// Clone returns a copy that shares no slices with p.
func (p PageRecord) Clone() PageRecord {
	cp := p
	if p.Images != nil {
		cp.Images = append([]Image(nil), p.Images...)
	}
	if p.OutboundLinks != nil {
		cp.OutboundLinks = append([]string(nil), p.OutboundLinks...)
	}
	return cp
}

// AltText joins every image alt attribute with a single space.
func (p PageRecord) AltText() string {
	out := make([]byte, 0, 64)
	for _, img := range p.Images {
		if img.Alt == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, img.Alt...)
	}
	return string(out)
}

// UpsertResult summarizes one or more page store upserts.
type UpsertResult struct {
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Errors   []string `json:"errors,omitempty"`
}

// Add folds other into r.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Errors = append(r.Errors, other.Errors...)
}

// Progress is a point-in-time view of a running crawl.
type Progress struct {
	ID           string `json:"id"`
	PagesCrawled int    `json:"pages_crawled"`
	Discovered   int    `json:"discovered"`
	MaxPages     int    `json:"max_pages"`
	CurrentURL   string `json:"current_url,omitempty"`
	State        State  `json:"state"`
	Running      bool   `json:"running"`
	Paused       bool   `json:"paused"`
	Finished     bool   `json:"finished"`
	Stopped      bool   `json:"stopped"`
	Error        string `json:"error,omitempty"`
}

// Snapshot is the crawl result: every committed page plus the link graph.
type Snapshot struct {
	ID           string                `json:"id"`
	StartURL     string                `json:"start_url"`
	Pages        map[string]PageRecord `json:"pages"`
	Links        map[string][]string   `json:"links"`
	Discovered   int                   `json:"discovered"`
	Timestamp    time.Time             `json:"timestamp"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at,omitempty"`
	State        State                 `json:"state"`
	Finished     bool                  `json:"finished"`
	Stopped      bool                  `json:"stopped"`
	Error        string                `json:"error,omitempty"`
	RobotsStatus RobotsStatus          `json:"robots_status,omitempty"`
	Store        UpsertResult          `json:"store"`
}

// NewSnapshot returns an empty snapshot seeded with id and start URL.
func NewSnapshot(id, startURL string) Snapshot {
	return Snapshot{
		ID:       id,
		StartURL: startURL,
		Pages:    make(map[string]PageRecord),
		Links:    make(map[string][]string),
		State:    StateIdle,
	}
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	cp := s
	cp.Pages = make(map[string]PageRecord, len(s.Pages))
	for k, v := range s.Pages {
		cp.Pages[k] = v.Clone()
	}
	cp.Links = make(map[string][]string, len(s.Links))
	for k, v := range s.Links {
		cp.Links[k] = append([]string(nil), v...)
	}
	cp.Store.Errors = append([]string(nil), s.Store.Errors...)
	return cp
}

// SortedPages returns the pages ordered by URL.
func (s Snapshot) SortedPages() []PageRecord {
	keys := make([]string, 0, len(s.Pages))
	for k := range s.Pages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]PageRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Pages[k])
	}
	return out
}

// Summary is the short end-of-crawl report.
type Summary struct {
	StartURL   string    `json:"start_url"`
	Crawled    int       `json:"crawled"`
	Discovered int       `json:"discovered"`
	Timestamp  time.Time `json:"timestamp"`
	State      State     `json:"state"`
	Error      string    `json:"error,omitempty"`
}

// Summary condenses the snapshot.
func (s Snapshot) Summary() Summary {
	return Summary{
		StartURL:   s.StartURL,
		Crawled:    len(s.Pages),
		Discovered: s.Discovered,
		Timestamp:  s.Timestamp,
		State:      s.State,
		Error:      s.Error,
	}
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Attempt int
	Headers http.Header
	// CheckRedirect vets each redirect target before it is requested. A
	// non-nil error aborts the fetch and is returned by Fetch.
	CheckRedirect func(target string) error
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the response Content-Type header.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}
