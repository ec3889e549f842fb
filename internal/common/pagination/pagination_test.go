package pagination

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	tests := []struct {
		name              string
		total, page, size int
		pages             int
		hasNext, hasPrev  bool
	}{
		{name: "empty", total: 0, page: 1, size: 10, pages: 0},
		{name: "first of three", total: 25, page: 1, size: 10, pages: 3, hasNext: true},
		{name: "last partial", total: 25, page: 3, size: 10, pages: 3, hasPrev: true},
		{name: "beyond end", total: 25, page: 4, size: 10, pages: 3, hasPrev: true},
		{name: "exact fit", total: 20, page: 2, size: 10, pages: 2, hasPrev: true},
		{name: "huge page size", total: 25, page: 1, size: math.MaxInt, pages: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Window(tt.total, tt.page, tt.size)
			assert.Equal(t, tt.pages, info.TotalPages)
			assert.Equal(t, tt.hasNext, info.HasNext)
			assert.Equal(t, tt.hasPrev, info.HasPrev)
		})
	}
}

func TestSlice(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, Slice(items, 1, 10))
	assert.Equal(t, []int{20, 21, 22, 23, 24}, Slice(items, 3, 10))
	assert.Empty(t, Slice(items, 4, 10))
	assert.Empty(t, Slice([]int{}, 1, 10))
}

func TestParseOffsetRequest(t *testing.T) {
	zero, big, three := 0, 500, 3

	p := ParseOffsetRequest(nil, nil)
	assert.Equal(t, OffsetPagination{Page: 1, PageSize: DefaultPageSize, Offset: 0}, p)

	p = ParseOffsetRequest(&zero, &big)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)

	p = ParseOffsetRequest(&three, &three)
	assert.Equal(t, 6, p.Offset)

	huge := math.MaxInt
	p = ParseOffsetRequest(&huge, &three)
	assert.Equal(t, math.MaxInt, p.Page)
	assert.Equal(t, math.MaxInt, p.Offset)
}

func TestBoundsLargePages(t *testing.T) {
	tests := []struct {
		name              string
		total, page, size int
		start, end        int
	}{
		{name: "max page", total: 25, page: math.MaxInt, size: 20, start: 25, end: 25},
		{name: "max page size", total: 25, page: 1, size: math.MaxInt, start: 0, end: 25},
		{name: "both max", total: 25, page: math.MaxInt, size: math.MaxInt, start: 25, end: 25},
		{name: "last page", total: 25, page: 2, size: 20, start: 20, end: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := Bounds(tt.total, tt.page, tt.size)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}

	items := make([]int, 25)
	assert.Empty(t, Slice(items, math.MaxInt, 20))
}
