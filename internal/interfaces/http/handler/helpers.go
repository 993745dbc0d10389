package handler

import (
	"strconv"

	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
)

// parseListFilter reads pagination query parameters, falling back to
// defaults on anything unparseable
func parseListFilter(c *gin.Context) shared.Filter {
	filter := shared.DefaultFilter()

	if raw := c.Query("page"); raw != "" {
		if page, err := strconv.Atoi(raw); err == nil {
			filter.Page = page
		}
	}
	if raw := c.Query("page_size"); raw != "" {
		if pageSize, err := strconv.Atoi(raw); err == nil {
			filter.PageSize = pageSize
		}
	}

	return filter.Normalize()
}
