package query

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseList_Defaults(t *testing.T) {
	m := NewMapper(MapperConfig{})

	opts, err := m.ParseList(url.Values{})
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}

	if opts.Page != 1 {
		t.Errorf("Page = %d, want 1", opts.Page)
	}
	if opts.Size != 50 {
		t.Errorf("Size = %d, want 50", opts.Size)
	}
	if opts.All {
		t.Error("All should default to false")
	}
}

func TestParseList_PagingAndFetchAll(t *testing.T) {
	m := NewMapper(MapperConfig{})

	opts, err := m.ParseList(url.Values{
		"page":     []string{"7"},
		"per_page": []string{"25"},
	})
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}
	if opts.Page != 7 || opts.Size != 25 {
		t.Errorf("got page=%d size=%d, want 7/25", opts.Page, opts.Size)
	}

	// fetch=all forces page back to 1
	opts, err = m.ParseList(url.Values{
		"page":  []string{"7"},
		"fetch": []string{"all"},
	})
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}
	if !opts.All {
		t.Error("All should be true for fetch=all")
	}
	if opts.Page != 1 {
		t.Errorf("Page = %d, want 1 in fetch-all mode", opts.Page)
	}
}

func TestParseList_FieldErrors(t *testing.T) {
	m := NewMapper(MapperConfig{})

	_, err := m.ParseList(url.Values{
		"page":     []string{"zero"},
		"per_page": []string{"9000"},
		"fetch":    []string{"some"},
		"sort":     []string{"bogus_field"},
		"start_at": []string{"01.02.2024"},
	})
	if err == nil {
		t.Fatal("ParseList should fail")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error is %T, want *ValidationError", err)
	}

	for _, field := range []string{"page", "per_page", "fetch", "sort", "start_at"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("missing validation entry for %q (got %v)", field, verr.Fields)
		}
	}
}

func TestParseList_PageBounds(t *testing.T) {
	m := NewMapper(MapperConfig{})

	if _, err := m.ParseList(url.Values{"page": []string{"0"}}); err == nil {
		t.Error("page=0 should fail validation")
	}
	if _, err := m.ParseList(url.Values{"per_page": []string{"0"}}); err == nil {
		t.Error("per_page=0 should fail validation")
	}
	if _, err := m.ParseList(url.Values{"per_page": []string{"200"}}); err != nil {
		t.Errorf("per_page=200 should be accepted: %v", err)
	}
}

func TestParseList_UnknownFiltersPassThrough(t *testing.T) {
	m := NewMapper(MapperConfig{})

	opts, err := m.ParseList(url.Values{
		"status":      []string{"confirmed"},
		"school_type": []string{"primary"},
	})
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}

	if opts.CRMQuery["status"] != "confirmed" {
		t.Errorf("status = %q, want confirmed", opts.CRMQuery["status"])
	}
	if opts.CRMQuery["school_type"] != "primary" {
		t.Errorf("school_type = %q, want primary", opts.CRMQuery["school_type"])
	}
}

func TestParseList_DateBounds(t *testing.T) {
	m := NewMapper(MapperConfig{})

	opts, err := m.ParseList(url.Values{
		"start_at":  []string{"2026-01-15"},
		"finish_at": []string{"2026-02-01"},
	})
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}
	if opts.CRMQuery["start_at"] != "2026-01-15" {
		t.Errorf("start_at = %q, want 2026-01-15", opts.CRMQuery["start_at"])
	}

	if _, err := m.ParseList(url.Values{"finish_at": []string{"tomorrow"}}); err == nil {
		t.Error("malformed finish_at should fail validation")
	}
}

func TestParseList_Sort(t *testing.T) {
	m := NewMapper(MapperConfig{})

	opts, err := m.ParseList(url.Values{
		"sort": []string{"-created_at,name:asc,status"},
	})
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}

	want := []SortField{
		{Field: "created_at", Direction: SortDesc},
		{Field: "name", Direction: SortAsc},
		{Field: "status", Direction: SortAsc},
	}
	if len(opts.Sort) != len(want) {
		t.Fatalf("got %d sort terms, want %d", len(opts.Sort), len(want))
	}
	for i, term := range want {
		if opts.Sort[i] != term {
			t.Errorf("sort[%d] = %+v, want %+v", i, opts.Sort[i], term)
		}
	}
}

func TestParseList_FieldSelection(t *testing.T) {
	m := NewMapper(MapperConfig{})

	opts, err := m.ParseList(url.Values{
		"fields[order]":  []string{"id,status"},
		"fields[school]": []string{"name"},
	})
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}

	if got := opts.Fields["order"]; len(got) != 2 || got[0] != "id" || got[1] != "status" {
		t.Errorf("fields[order] = %v, want [id status]", got)
	}
	if got := opts.Fields["school"]; len(got) != 1 || got[0] != "name" {
		t.Errorf("fields[school] = %v, want [name]", got)
	}
}
