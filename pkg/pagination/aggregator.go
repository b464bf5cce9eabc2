package pagination

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/campusops/crm-gateway/pkg/crm"
	"github.com/campusops/crm-gateway/pkg/query"
)

// PageFetcher fetches one upstream page. The listing service binds it to
// a CRM client call for a specific resource.
type PageFetcher func(ctx context.Context, page, size int) (*crm.Page, error)

// Result is the outcome of executing a list query against the upstream.
type Result struct {
	// Items is the union of the fetched pages' items.
	Items []json.RawMessage

	// Meta describes the result's pagination. For a fetch-all result it
	// collapses to a single logical page.
	Meta crm.Meta

	// UpstreamLinks are the CRM's own link hints for the fetched page,
	// passed through for link reconstruction. Empty for fetch-all.
	UpstreamLinks crm.Links
}

// Config holds aggregator configuration.
type Config struct {
	// MaxPages caps the fetch-all loop so aggregation terminates even
	// when the upstream never signals completion. With the 200 per-page
	// maximum this bounds an aggregate result to MaxPages*200 records.
	// Hitting the cap stops aggregation and returns what was collected;
	// it is not an error.
	MaxPages int
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() Config {
	return Config{MaxPages: 100}
}

// Aggregator orchestrates upstream page fetches for a list query.
type Aggregator struct {
	cfg Config
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	return &Aggregator{cfg: cfg}
}

// Execute runs the fetch strategy selected by the options: a single page
// fetch, or the fetch-all loop when opts.All is set. Any upstream error
// aborts the operation with that error surfaced unchanged.
func (a *Aggregator) Execute(ctx context.Context, opts query.Options, fetch PageFetcher) (*Result, error) {
	if !opts.All {
		page, err := fetch(ctx, opts.Page, opts.Size)
		if err != nil {
			return nil, err
		}
		return &Result{
			Items:         page.Data,
			Meta:          page.Meta,
			UpstreamLinks: page.Links,
		}, nil
	}

	return a.fetchAll(ctx, opts, fetch)
}

// fetchAll unions consecutive pages starting at 1 until the upstream
// signals completion: an empty page, a page shorter than requested, or a
// missing next link.
func (a *Aggregator) fetchAll(ctx context.Context, opts query.Options, fetch PageFetcher) (*Result, error) {
	var items []json.RawMessage
	var totalCount int

	pages := 0
	for page := 1; page <= a.cfg.MaxPages; page++ {
		resp, err := fetch(ctx, page, opts.Size)
		if err != nil {
			// No partial results: the caller asked for everything.
			return nil, err
		}

		pages++
		items = append(items, resp.Data...)
		if resp.Meta.TotalCount > 0 {
			totalCount = resp.Meta.TotalCount
		}

		if len(resp.Data) == 0 || len(resp.Data) < opts.Size || resp.Links.Next == "" {
			break
		}

		if page == a.cfg.MaxPages {
			log.Warn().
				Int("max_pages", a.cfg.MaxPages).
				Int("items", len(items)).
				Msg("Fetch-all page cap reached, returning collected pages")
		}
	}

	log.Debug().
		Int("pages", pages).
		Int("items", len(items)).
		Msg("Fetch-all aggregation complete")

	if totalCount == 0 {
		totalCount = len(items)
	}

	// An aggregated result is one logical page.
	return &Result{
		Items: items,
		Meta: crm.Meta{
			CurrentPage: 1,
			PerPage:     len(items),
			TotalCount:  totalCount,
			TotalPages:  1,
		},
	}, nil
}
