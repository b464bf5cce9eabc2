// Package query turns raw list-request parameters into a canonical,
// immutable Options value and derives the cache signature used to key
// the versioned list cache.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// SortDirection is the direction of a single sort term.
type SortDirection string

const (
	// SortAsc sorts ascending.
	SortAsc SortDirection = "asc"

	// SortDesc sorts descending.
	SortDesc SortDirection = "desc"
)

// SortField is one ordered sort term.
type SortField struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// Options is the canonical form of a list query. It is created once per
// request by the Mapper and never mutated afterwards.
type Options struct {
	// CRMQuery holds the filters forwarded verbatim to the upstream CRM.
	// Multi-value parameters are collapsed into a single sorted,
	// comma-joined value so that value ordering cannot influence the
	// cache signature.
	CRMQuery map[string]string

	// Page is the requested page number (1-based).
	Page int

	// Size is the per-page size sent upstream.
	Size int

	// All indicates fetch-all mode: every upstream page is aggregated
	// into one logical result. Page is forced to 1 when All is set;
	// Size still bounds the per-request upstream page size.
	All bool

	// Sort is the ordered sequence of sort terms. Order is significant.
	Sort []SortField

	// Fields maps a resource name to the requested sub-fields.
	Fields map[string][]string
}

// signaturePayload is the canonical encoding hashed into the signature.
// Maps marshal with lexicographically sorted keys, slices keep their
// (already canonicalized) order.
type signaturePayload struct {
	Filters map[string]string   `json:"filters"`
	Page    int                 `json:"page"`
	Size    int                 `json:"size"`
	All     bool                `json:"all"`
	Sort    []string            `json:"sort"`
	Fields  map[string][]string `json:"fields"`
}

// Signature returns the hex digest identifying the semantic content of
// the options. Two Options built from parameter sets that differ only in
// key or multi-value ordering produce the same signature.
func (o Options) Signature() string {
	payload := signaturePayload{
		Filters: o.CRMQuery,
		Page:    o.Page,
		Size:    o.Size,
		All:     o.All,
		Sort:    make([]string, 0, len(o.Sort)),
		Fields:  make(map[string][]string, len(o.Fields)),
	}

	for _, s := range o.Sort {
		payload.Sort = append(payload.Sort, s.Field+":"+string(s.Direction))
	}

	for resource, fields := range o.Fields {
		sorted := make([]string, len(fields))
		copy(sorted, fields)
		sort.Strings(sorted)
		payload.Fields[resource] = sorted
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal of string maps and slices cannot fail; keep the
		// signature total anyway.
		data = []byte(strings.Join(payload.Sort, ","))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// UpstreamQuery returns the filter set sent to the CRM for one page
// fetch. Sort terms are rendered in the CRM's "-field" notation and
// field selections in its "fields[resource]" notation.
func (o Options) UpstreamQuery() map[string]string {
	q := make(map[string]string, len(o.CRMQuery)+len(o.Fields)+1)
	for k, v := range o.CRMQuery {
		q[k] = v
	}

	if len(o.Sort) > 0 {
		terms := make([]string, 0, len(o.Sort))
		for _, s := range o.Sort {
			if s.Direction == SortDesc {
				terms = append(terms, "-"+s.Field)
			} else {
				terms = append(terms, s.Field)
			}
		}
		q["sort"] = strings.Join(terms, ",")
	}

	for resource, fields := range o.Fields {
		q["fields["+resource+"]"] = strings.Join(fields, ",")
	}

	return q
}
