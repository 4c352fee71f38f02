// Package progress defines the event structures emitted while a crawl runs
// and the hub that batches them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart   Stage = "CRAWL_START"
	StagePageDone     Stage = "PAGE_DONE"
	StageCrawlPaused  Stage = "CRAWL_PAUSED"
	StageCrawlResumed Stage = "CRAWL_RESUMED"
	StageCrawlDone    Stage = "CRAWL_DONE"
	StageCrawlStopped Stage = "CRAWL_STOPPED"
	StageCrawlError   Stage = "CRAWL_ERROR"
)

// Terminal reports whether the stage ends a crawl.
func (s Stage) Terminal() bool {
	return s == StageCrawlDone || s == StageCrawlStopped || s == StageCrawlError
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawl progress.
type Event struct {
	// CrawlID identifies the crawl run.
	CrawlID uuid.UUID `json:"crawl_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which lifecycle or page milestone occurred.
	Stage Stage `json:"stage"`
	// Site scopes page events to a host label.
	Site string `json:"site,omitempty"`
	// URL is the page that just completed.
	URL string `json:"url,omitempty"`
	// StatusCode is the HTTP status of the completed page, 0 on transport failure.
	StatusCode int `json:"status_code,omitempty"`
	// StatusClass groups StatusCode (2xx, 3xx, etc).
	StatusClass StatusClass `json:"status_class,omitempty"`
	// Bytes carries the response size for the page.
	Bytes int64 `json:"bytes,omitempty"`
	// PagesCrawled is the number of committed pages after this event.
	PagesCrawled int `json:"pages_crawled"`
	// Discovered is the number of distinct URLs accepted by the frontier.
	Discovered int `json:"discovered"`
	// MaxPages is the crawl's page budget; 0 means unlimited.
	MaxPages int `json:"max_pages"`
	// Dur captures fetch latency for pages and wall time for terminal events.
	Dur time.Duration `json:"dur_ns,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == uuid.Nil {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlPaused, StageCrawlResumed,
		StageCrawlDone, StageCrawlStopped, StageCrawlError:
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page done requires url")
		}
		if e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.PagesCrawled < 0 || e.Discovered < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
