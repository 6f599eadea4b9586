package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// PaginationParams is the page window requested by ?page=&per_page=
type PaginationParams struct {
	Page    int
	PerPage int
}

// ParsePagination reads page and per_page. Missing or non-positive values
// fall back to page 1 and 20 per page; per_page is capped at 100.
func ParsePagination(r *http.Request) PaginationParams {
	q := r.URL.Query()
	return PaginationParams{
		Page:    positiveInt(q.Get("page"), 1),
		PerPage: min(positiveInt(q.Get("per_page"), defaultPerPage), maxPerPage),
	}
}

func positiveInt(raw string, def int) int {
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return def
}

// Offset returns the row offset of the first item on the page
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// TotalPages returns how many pages total items fill
func (p PaginationParams) TotalPages(total int64) int {
	if p.PerPage <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
}
