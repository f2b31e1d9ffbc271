// Endpoint HTTP handlers.
//
//   - GET /endpoint  (current generation-backend address)
//   - PUT /endpoint  (operator only; same rules as the /endpoint chat command)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-order-bot/internal/http/middleware"
	"github.com/tbourn/go-order-bot/internal/registry"
)

// EndpointResponse reports the registered generation address.
type EndpointResponse struct {
	Address string `json:"address"`
	Set     bool   `json:"set"`
	Suffix  string `json:"suffix"`
}

// PutEndpointRequest is the body of PUT /endpoint.
type PutEndpointRequest struct {
	Address string `json:"address" binding:"required"`
}

// GetEndpoint returns the current address. An unset registry is not an error.
func (h *Handlers) GetEndpoint(c *gin.Context) {
	addr, set := h.registry.Get(c.Request.Context())
	ok(c, http.StatusOK, EndpointResponse{Address: addr, Set: set, Suffix: h.registry.Suffix()})
}

// PutEndpoint replaces the address when the caller (X-User-ID) is the
// operator and the address is valid.
func (h *Handlers) PutEndpoint(c *gin.Context) {
	requester := middleware.UserID(c)
	if requester == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing "+middleware.HeaderUserID)
		return
	}

	var req PutEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body")
		return
	}
	addr := strings.TrimSpace(req.Address)

	err := h.registry.Set(c.Request.Context(), addr, requester)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrUnauthorized):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only the operator may change the endpoint")
		return
	case errors.Is(err, registry.ErrInvalidAddress):
		fail(c, http.StatusBadRequest, ErrCodeInvalidAddress,
			"address must be http(s) and end with "+h.registry.Suffix())
		return
	default:
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, "could not save endpoint")
		return
	}

	middleware.LoggerFrom(c).Info().Str("address", addr).Msg("generation endpoint updated")
	ok(c, http.StatusOK, EndpointResponse{Address: addr, Set: true, Suffix: h.registry.Suffix()})
}
