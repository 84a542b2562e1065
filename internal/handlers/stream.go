package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/Darkvarin/Learnyzer-sub003/internal/auth"
	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/errors"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/response"
)

// StreamHandler upgrades HTTP connections into authenticated battle streams.
type StreamHandler struct {
	registry *realtime.Registry
	sink     realtime.FrameSink
	jwt      *iauth.JWTService
}

// NewStreamHandler constructs the websocket entry point for battle traffic.
func NewStreamHandler(registry *realtime.Registry, sink realtime.FrameSink, jwt *iauth.JWTService) *StreamHandler {
	return &StreamHandler{
		registry: registry,
		sink:     sink,
		jwt:      jwt,
	}
}

// Stream authenticates the caller and hands the connection to the registry.
// Browsers cannot set headers on websocket dials, so the token is accepted
// from the query string as well.
func (h *StreamHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.registry == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}

	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	identity := realtime.Identity{
		UserID:   strings.TrimSpace(claims.UserID),
		Username: strings.TrimSpace(claims.Username),
		Avatar:   strings.TrimSpace(claims.Avatar),
	}
	if identity.UserID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.registry.Serve(identity, h.sink, c.Writer, c.Request)
}
