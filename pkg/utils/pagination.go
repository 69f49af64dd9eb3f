package utils

import (
	"math"
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Page is the window parsed from ?page and ?limit query parameters.
type Page struct {
	Limit  int
	Offset int
	Number int
}

func ParsePage(r *http.Request) Page {
	limit := defaultPageSize
	if val, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && val > 0 {
		limit = val
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	number := 1
	if val, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && val > 0 {
		number = val
	}

	return Page{
		Limit:  limit,
		Offset: (number - 1) * limit,
		Number: number,
	}
}

// Meta builds the pagination envelope returned alongside list payloads.
func (p Page) Meta(total int64) map[string]interface{} {
	return map[string]interface{}{
		"total_items":  total,
		"total_pages":  int(math.Ceil(float64(total) / float64(p.Limit))),
		"current_page": p.Number,
		"per_page":     p.Limit,
	}
}
