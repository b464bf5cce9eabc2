package query

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Reserved parameter names consumed by the mapper itself. Everything
// else is forwarded verbatim to the upstream CRM.
const (
	paramPage    = "page"
	paramPerPage = "per_page"
	paramFetch   = "fetch"
	paramSort    = "sort"

	fetchAll = "all"

	dateLayout = "2006-01-02"
)

// Date-bound filters are forwarded upstream but their shape is validated
// locally because a malformed bound would otherwise surface as an opaque
// upstream 400.
var dateParams = map[string]bool{
	"start_at":  true,
	"finish_at": true,
}

// ValidationError carries one entry per invalid field. It never reaches
// the cache, the rate limiter or the upstream client.
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid list query"
	}

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid list query: " + strings.Join(parts, "; ")
}

// MapperConfig holds the mapper configuration.
type MapperConfig struct {
	// DefaultSize is the per-page size when per_page is absent.
	DefaultSize int

	// MaxSize caps per_page.
	MaxSize int

	// SortFields is the allowlist of sortable fields.
	SortFields []string
}

// DefaultMapperConfig returns the default mapper configuration.
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		DefaultSize: 50,
		MaxSize:     200,
		SortFields:  []string{"id", "name", "status", "created_at", "updated_at", "start_at", "finish_at"},
	}
}

// Mapper parses raw list-query parameters into Options.
type Mapper struct {
	cfg        MapperConfig
	sortFields map[string]bool
	validate   *validator.Validate
	sizeRule   string
}

// NewMapper creates a mapper. Zero config values fall back to defaults.
func NewMapper(cfg MapperConfig) *Mapper {
	defaults := DefaultMapperConfig()
	if cfg.DefaultSize <= 0 {
		cfg.DefaultSize = defaults.DefaultSize
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaults.MaxSize
	}
	if len(cfg.SortFields) == 0 {
		cfg.SortFields = defaults.SortFields
	}

	allowed := make(map[string]bool, len(cfg.SortFields))
	for _, f := range cfg.SortFields {
		allowed[f] = true
	}

	return &Mapper{
		cfg:        cfg,
		sortFields: allowed,
		validate:   validator.New(),
		sizeRule:   fmt.Sprintf("min=1,max=%d", cfg.MaxSize),
	}
}

// ParseList maps raw parameters to canonical Options. It validates the
// shapes it recognizes (paging, sorting, date bounds) and passes unknown
// filter keys through verbatim - the upstream CRM is the authority on
// which filters exist.
func (m *Mapper) ParseList(params url.Values) (Options, error) {
	fields := map[string]string{}

	opts := Options{
		CRMQuery: map[string]string{},
		Page:     1,
		Size:     m.cfg.DefaultSize,
		Fields:   map[string][]string{},
	}

	if raw := params.Get(paramPage); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			fields[paramPage] = "must be an integer"
		} else if err := m.validate.Var(page, "min=1"); err != nil {
			fields[paramPage] = "must be >= 1"
		} else {
			opts.Page = page
		}
	}

	if raw := params.Get(paramPerPage); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			fields[paramPerPage] = "must be an integer"
		} else if err := m.validate.Var(size, m.sizeRule); err != nil {
			fields[paramPerPage] = fmt.Sprintf("must be between 1 and %d", m.cfg.MaxSize)
		} else {
			opts.Size = size
		}
	}

	if raw := params.Get(paramFetch); raw != "" {
		if raw != fetchAll {
			fields[paramFetch] = fmt.Sprintf("unsupported value %q, only %q is recognized", raw, fetchAll)
		} else {
			opts.All = true
			opts.Page = 1
		}
	}

	if raw := params.Get(paramSort); raw != "" {
		terms, err := m.parseSort(raw)
		if err != nil {
			fields[paramSort] = err.Error()
		} else {
			opts.Sort = terms
		}
	}

	for key, values := range params {
		switch key {
		case paramPage, paramPerPage, paramFetch, paramSort:
			continue
		}

		if resource, ok := fieldSelector(key); ok {
			opts.Fields[resource] = splitFields(values)
			continue
		}

		value := canonicalValue(values)

		if dateParams[key] {
			if _, err := time.Parse(dateLayout, value); err != nil {
				fields[key] = "must be a date in YYYY-MM-DD format"
				continue
			}
		}

		opts.CRMQuery[key] = value
	}

	if len(fields) > 0 {
		return Options{}, &ValidationError{Fields: fields}
	}

	return opts, nil
}

// parseSort parses a comma-separated sort expression. Terms accept the
// "-field" prefix or an explicit ":asc"/":desc" suffix.
func (m *Mapper) parseSort(raw string) ([]SortField, error) {
	parts := strings.Split(raw, ",")
	terms := make([]SortField, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		term := SortField{Direction: SortAsc}

		if strings.HasPrefix(part, "-") {
			term.Direction = SortDesc
			part = part[1:]
		} else if field, dir, ok := strings.Cut(part, ":"); ok {
			switch dir {
			case string(SortAsc):
			case string(SortDesc):
				term.Direction = SortDesc
			default:
				return nil, fmt.Errorf("unknown sort direction %q", dir)
			}
			part = field
		}

		if !m.sortFields[part] {
			return nil, fmt.Errorf("unknown sort field %q", part)
		}

		term.Field = part
		terms = append(terms, term)
	}

	return terms, nil
}

// fieldSelector recognizes "fields[resource]" parameter keys.
func fieldSelector(key string) (string, bool) {
	if !strings.HasPrefix(key, "fields[") || !strings.HasSuffix(key, "]") {
		return "", false
	}
	resource := key[len("fields[") : len(key)-1]
	if resource == "" {
		return "", false
	}
	return resource, true
}

// splitFields splits comma-separated field lists from all occurrences of
// a fields[...] parameter.
func splitFields(values []string) []string {
	var out []string
	for _, v := range values {
		for _, f := range strings.Split(v, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				out = append(out, f)
			}
		}
	}
	return out
}

// canonicalValue collapses a multi-value parameter into one value that
// is independent of the original ordering.
func canonicalValue(values []string) string {
	if len(values) == 1 {
		return values[0]
	}
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
