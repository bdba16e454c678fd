package pagination

const (
	DefaultPage    = 1
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// Params selects one page of a listing.
type Params struct {
	Page    int
	PerPage int
}

// Normalize fills zero values with defaults.
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	return p
}

// Offset is the number of rows to skip.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Meta describes where a page sits in the full result set.
type Meta struct {
	Page        int  `json:"page"`
	PerPage     int  `json:"perPage"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// Page is one page of items plus its meta.
type Page[T any] struct {
	Data []T  `json:"data"`
	Meta Meta `json:"meta"`
}

// NewPage builds a Page. TotalPages is ceil(total/perPage), so an empty
// result set has zero pages.
func NewPage[T any](data []T, total int, p Params) *Page[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := 0
	if p.PerPage > 0 {
		totalPages = (total + p.PerPage - 1) / p.PerPage
	}
	return &Page[T]{
		Data: data,
		Meta: Meta{
			Page:        p.Page,
			PerPage:     p.PerPage,
			Total:       total,
			TotalPages:  totalPages,
			HasNextPage: p.Page < totalPages,
			HasPrevPage: p.Page > 1,
		},
	}
}
