package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func params(query string) PaginationParams {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return GetPaginationParams(e.NewContext(req, httptest.NewRecorder()))
}

func TestGetPaginationParams(t *testing.T) {
	p := params("")
	assert.False(t, p.Requested)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)

	p = params("page=3&limit=10")
	assert.True(t, p.Requested)
	assert.Equal(t, 20, p.Offset)

	p = params("limit=500")
	assert.True(t, p.Requested)
	assert.Equal(t, 20, p.PageSize)
}

func TestWindow(t *testing.T) {
	p := params("page=2&limit=2")

	start, end := p.Window(5)
	assert.Equal(t, 2, start)
	assert.Equal(t, 4, end)

	start, end = p.Window(3)
	assert.Equal(t, 2, start)
	assert.Equal(t, 3, end)

	start, end = p.Window(1)
	assert.Equal(t, 1, start)
	assert.Equal(t, 1, end)
}
