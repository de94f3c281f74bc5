// Package research is the optional prior-art search collaborator. A
// nil or unavailable Provider makes the orchestrator skip the
// patent-searcher stage; it is the only stage whose absence does not
// block the pipeline.
package research

import (
	"context"
	"net/http"
	"time"
)

// Reference is one ranked candidate reference document.
type Reference struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"`
}

// Provider is the search capability contract.
type Provider interface {
	// Available probes whether the capability can serve queries right
	// now. The orchestrator calls it once per run.
	Available(ctx context.Context) bool

	// Search returns up to limit ranked references for the keywords.
	Search(ctx context.Context, keywords []string, limit int) ([]Reference, error)
}

// patentSources are hosts whose hits are ranked ahead of general
// results.
var patentSources = []string{
	"patents.google.com",
	"worldwide.espacenet.com",
	"epo.org",
	"wipo.int",
	"cnipa.gov.cn",
	"uspto.gov",
	"freepatentsonline.com",
}

const (
	searchTimeout = 30 * time.Second
	probeTimeout  = 5 * time.Second
)

var defaultHTTPClient = &http.Client{Timeout: searchTimeout}
