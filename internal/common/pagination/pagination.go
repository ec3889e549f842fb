package pagination

import "math"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type OffsetPagination struct {
	Page     int
	PageSize int
	Offset   int
}

// ParseOffsetRequest normalises caller input: missing or non-positive pages
// become 1, page sizes outside 1..MaxPageSize fall back to DefaultPageSize.
func ParseOffsetRequest(page, pageSize *int) OffsetPagination {
	p := 1
	if page != nil && *page > 0 {
		p = *page
	}

	ps := DefaultPageSize
	if pageSize != nil && *pageSize > 0 && *pageSize <= MaxPageSize {
		ps = *pageSize
	}

	offset := math.MaxInt
	if p-1 <= math.MaxInt/ps {
		offset = (p - 1) * ps
	}

	return OffsetPagination{
		Page:     p,
		PageSize: ps,
		Offset:   offset,
	}
}

type PageInfo struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	TotalCount int  `json:"totalCount"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Window describes page `page` of a collection of `total` items. A page past
// the end is valid and simply has no items.
func Window(total, page, pageSize int) PageInfo {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if total < 0 {
		total = 0
	}

	totalPages := pages(total, pageSize)

	return PageInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// Bounds returns the half-open index range [start, end) of the page within a
// collection of `total` items. start == end means the page is empty.
func Bounds(total, page, pageSize int) (start, end int) {
	if page < 1 || pageSize < 1 || total <= 0 {
		return 0, 0
	}
	// Compare page numbers first; (page-1)*pageSize overflows for huge pages.
	if page-1 >= pages(total, pageSize) {
		return total, total
	}
	start = (page - 1) * pageSize
	return start, start + min(pageSize, total-start)
}

func pages(total, pageSize int) int {
	n := total / pageSize
	if total%pageSize != 0 {
		n++
	}
	return n
}

// Slice applies Bounds to an in-memory, already ordered collection.
func Slice[T any](items []T, page, pageSize int) []T {
	start, end := Bounds(len(items), page, pageSize)
	if start == end {
		return nil
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}
