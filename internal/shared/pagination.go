package shared

import "math"

// Default and maximum page sizes for listings.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = ClampPaging(page, perPage)
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// ClampPaging normalizes page and per-page values into their allowed ranges.
func ClampPaging(page, perPage int) (int, int) {
	if perPage <= 0 || perPage > MaxPerPage {
		perPage = DefaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}

// Offset returns the SQL offset for the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}
