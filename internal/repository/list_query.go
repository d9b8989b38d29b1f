package repository

import "strings"

// ListQuery represents common query parameters
type ListQuery struct {
	Page    int
	PerPage int
	Search  string
	SortBy  string
	SortDir string
	Filters map[string]string
}

// NewListQuery creates a ListQuery with defaults
func NewListQuery() *ListQuery {
	return &ListQuery{
		Page:    1,
		PerPage: 20,
		Filters: make(map[string]string),
	}
}

// Offset returns the row offset of the requested page
func (q *ListQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.PerPage
}

// orderClause builds an ORDER BY from the requested sort, accepting only
// whitelisted columns.
func (q *ListQuery) orderClause(allowed map[string]bool, fallback string) string {
	if q.SortBy == "" || !allowed[q.SortBy] {
		return fallback
	}
	if strings.EqualFold(q.SortDir, "desc") {
		return q.SortBy + " DESC"
	}
	return q.SortBy + " ASC"
}
