// Session HTTP handlers.
//
//   - GET /sessions           (operator only; paginated, optional ?state=)
//   - GET /sessions/:userID   (one session snapshot)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-order-bot/internal/http/middleware"
	"github.com/tbourn/go-order-bot/internal/order"
	"github.com/tbourn/go-order-bot/internal/services"
	"github.com/tbourn/go-order-bot/internal/utils"
)

// Pagination describes the returned page.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// ListSessionsResponse is one page of sessions.
type ListSessionsResponse struct {
	Sessions   []order.Session `json:"sessions"`
	Pagination Pagination      `json:"pagination"`
}

func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListSessions pages through known sessions ordered by user id.
func (h *Handlers) ListSessions(c *gin.Context) {
	requester := middleware.UserID(c)
	if requester == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing "+middleware.HeaderUserID)
		return
	}
	page, pageSize := clampPagination(c)
	state := order.State(strings.ToLower(strings.TrimSpace(c.Query("state"))))

	items, total, err := h.lister.ListPage(c.Request.Context(), requester, state, page, pageSize)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only the operator may list sessions")
		return
	case errors.Is(err, services.ErrInvalidState):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown state "+string(state))
		return
	default:
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list sessions")
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	ok(c, http.StatusOK, ListSessionsResponse{
		Sessions: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	})
}

// GetSession returns the order session of :userID to that user or the
// operator. Users that never interacted with the bot yield 404.
func (h *Handlers) GetSession(c *gin.Context) {
	uid := strings.TrimSpace(c.Param("userID"))
	if uid == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id required")
		return
	}
	caller := middleware.UserID(c)
	if caller == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing "+middleware.HeaderUserID)
		return
	}
	if caller != uid && !h.registry.IsOperator(caller) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "sessions are visible to their user and the operator")
		return
	}
	s, found := h.sessions.Session(uid)
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no session for user")
		return
	}
	ok(c, http.StatusOK, s)
}
