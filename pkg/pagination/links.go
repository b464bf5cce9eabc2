package pagination

import (
	"net/url"
	"strconv"

	"github.com/campusops/crm-gateway/pkg/crm"
	"github.com/campusops/crm-gateway/pkg/query"
)

// PageLinks is the navigation object returned to clients. Next and Prev
// serialize to null when absent.
type PageLinks struct {
	Self string  `json:"self"`
	Next *string `json:"next"`
	Prev *string `json:"prev"`
}

// BuildLinks reconstructs self/next/prev for the current request. The
// inbound URI is treated as immutable; every produced link is a rewritten
// copy in the gateway's own URI space.
//
// Next prefers a trustworthy total_pages from the metadata. When the CRM
// does not report one, the page number is extracted from the upstream's
// own next/prev links instead, so clients still get a local link and
// never an upstream URL.
func BuildLinks(requestURI *url.URL, opts query.Options, meta crm.Meta, upstream crm.Links) PageLinks {
	links := PageLinks{Self: requestURI.String()}

	// An aggregated fetch-all result is not itself paginated.
	if opts.All {
		return links
	}

	if opts.Page > 1 {
		links.Prev = rewritePage(requestURI, opts.Page-1, opts.Size)
	}

	if meta.TotalPages > 0 {
		if opts.Page < meta.TotalPages {
			links.Next = rewritePage(requestURI, opts.Page+1, opts.Size)
		}
		return links
	}

	if page := pageFromLink(upstream.Next); page > 0 {
		links.Next = rewritePage(requestURI, page, opts.Size)
	}
	if links.Prev == nil {
		if page := pageFromLink(upstream.Prev); page > 0 {
			links.Prev = rewritePage(requestURI, page, opts.Size)
		}
	}

	return links
}

// rewritePage copies the request URI, pointing it at the target page
// with an explicit, clamped per_page and without the fetch flag.
func rewritePage(requestURI *url.URL, page, size int) *string {
	u := *requestURI
	q := u.Query()

	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(size))
	q.Del("fetch")

	u.RawQuery = q.Encode()
	s := u.String()
	return &s
}

// pageFromLink extracts a positive page number from an upstream link's
// query string. Returns 0 when there is none.
func pageFromLink(link string) int {
	if link == "" {
		return 0
	}

	u, err := url.Parse(link)
	if err != nil {
		return 0
	}

	page, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || page < 1 {
		return 0
	}
	return page
}
