package handler

import (
	"errors"
	"net/http"
	"strconv"

	"timebank-escrow/internal/adapter/http/middleware"
	"timebank-escrow/internal/core/domain"
	"timebank-escrow/pkg/apperror"
	"timebank-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// requireActor returns the authenticated caller or writes 401.
func requireActor(c *gin.Context) (domain.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
	}
	return actor, ok
}

// pathID parses a uuid path parameter or writes 400.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON binds the body into v, reporting oversized bodies as 413.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, apperror.ErrPayloadTooLarge())
			return false
		}
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	return true
}

// pageParams reads limit/offset query parameters.
func pageParams(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
