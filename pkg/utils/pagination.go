package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// PaginationParams represents pagination parameters
type PaginationParams struct {
	Page     int
	PageSize int
	Offset   int
	// Requested is false when the query named neither page nor limit.
	Requested bool
}

// GetPaginationParams extracts pagination parameters from request
func GetPaginationParams(c echo.Context) PaginationParams {
	rawPage, rawLimit := c.QueryParam("page"), c.QueryParam("limit")
	page, _ := strconv.Atoi(rawPage)
	pageSize, _ := strconv.Atoi(rawLimit)

	if page <= 0 {
		page = 1
	}

	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20 // Default page size
	}

	offset := (page - 1) * pageSize

	return PaginationParams{
		Page:      page,
		PageSize:  pageSize,
		Offset:    offset,
		Requested: rawPage != "" || rawLimit != "",
	}
}

// Window returns the [start, end) bounds of the page within n items.
func (p PaginationParams) Window(n int) (int, int) {
	start := p.Offset
	if start > n {
		start = n
	}
	end := start + p.PageSize
	if end > n {
		end = n
	}
	return start, end
}
