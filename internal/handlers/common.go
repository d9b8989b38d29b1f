package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/internal/middleware"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/sjperalta/custodia-api/internal/services"
)

const maxPerPage = 100

// actorFrom builds the explicit actor every core operation takes
func actorFrom(c *gin.Context) services.Actor {
	return services.Actor{
		ID:        middleware.GetActorID(c),
		Role:      middleware.GetActorRole(c),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// parseID reads a positive numeric path parameter, answering 422 otherwise
func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || id == 0 {
		respondError(c, services.ValidationError(param, "must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}

// listQueryFrom reads paging, sorting and the named filters
func listQueryFrom(c *gin.Context, filters ...string) *repository.ListQuery {
	query := repository.NewListQuery()
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PerPage < 1 || query.PerPage > maxPerPage {
		query.PerPage = 20
	}
	query.Search = c.Query("search_term")
	query.SortBy = c.Query("sort_by")
	query.SortDir = c.Query("sort_direction")
	for _, name := range filters {
		if val := c.Query(name); val != "" {
			query.Filters[name] = val
		}
	}
	return query
}

func pagination(query *repository.ListQuery, total int64) gin.H {
	return gin.H{
		"page":        query.Page,
		"per_page":    query.PerPage,
		"total":       total,
		"total_pages": (total + int64(query.PerPage) - 1) / int64(query.PerPage),
	}
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("not positive")
	}
	return n, nil
}
