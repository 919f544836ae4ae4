package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// PageSizes is the closed set of page sizes offered to the table.
var PageSizes = []int{25, 50, 100}

// IsPageSize reports whether n is one of the enumerated page sizes.
func IsPageSize(n int) bool {
	for _, s := range PageSizes {
		if s == n {
			return true
		}
	}
	return false
}

// Params holds page-based pagination parameters extracted from a request.
// Page is zero-based.
type Params struct {
	Limit int
	Page  int
}

// FromContext extracts pagination parameters from the echo context.
// Both "limit" and "page_size" are accepted for the size.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit, _ = strconv.Atoi(c.QueryParam("page_size"))
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 0 {
		page = 0
	}

	return Params{Limit: limit, Page: page}
}

// Offset returns the row offset of the first record on the page.
func (p Params) Offset() int {
	return p.Limit * p.Page
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset()+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Page > 0
}

// LastPage returns the highest page index that still holds records for total.
func (p Params) LastPage(total int) int {
	if p.Limit <= 0 || total <= 0 {
		return 0
	}
	return (total - 1) / p.Limit
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Page    int         `json:"page"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Page:    p.Page,
		HasMore: p.HasNext(total),
	}
}
