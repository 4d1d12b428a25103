package generic

import "math"

// =============================================================================
// PAGINATION
// =============================================================================

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MaxPage keeps Offset and Window within int at any limit.
	MaxPage = math.MaxInt/MaxLimit - 1
)

// PageRequest is a 1-based page and a page size.
type PageRequest struct {
	Page  int
	Limit int
}

// NewPageRequest applies defaults and clamps the limit to MaxLimit.
func NewPageRequest(page, limit int) PageRequest {
	return PageRequest{Page: page, Limit: limit}.Normalize()
}

func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func (p PageRequest) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

// Window returns the [start, end) slice bounds of this page over n items.
func (p PageRequest) Window(n int) (int, int) {
	start := p.Offset()
	if start > n {
		start = n
	}
	end := start + p.Normalize().Limit
	if end > n {
		end = n
	}
	return start, end
}

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
	Total       int  `json:"total"`
	Limit       int  `json:"limit"`
}

func NewPagination(p PageRequest, total int) Pagination {
	p = p.Normalize()
	pages := (total + p.Limit - 1) / p.Limit
	return Pagination{
		CurrentPage: p.Page,
		TotalPages:  pages,
		HasNext:     p.Page < pages,
		HasPrev:     p.Page > 1,
		Total:       total,
		Limit:       p.Limit,
	}
}
