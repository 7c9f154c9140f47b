package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/carbonledger/internal/audit/auditcontext"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	obscontext "github.com/smallbiznis/carbonledger/internal/observability/context"
	"github.com/smallbiznis/carbonledger/internal/observability/logger"
	"go.uber.org/zap"
)

const actorContextKey = "actor"

// BearerAuthRequired resolves the Authorization header into an actor.
func (s *Server) BearerAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || s.tokens == nil {
			c.Header("WWW-Authenticate", "Bearer")
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor, err := s.tokens.Parse(raw)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("bearer token rejected", zap.Error(err))
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			AbortWithError(c, err)
			return
		}

		userID := actor.UserID.String()
		ctx := c.Request.Context()
		ctx = obscontext.WithActor(ctx, string(actor.Role), userID)
		ctx = auditcontext.WithActor(ctx, string(actor.Role), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// authorizeAction gates routes whose service call takes no actor.
func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (authorization.Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := value.(authorization.Actor)
	return actor, ok && actor.UserID != 0
}

// mustActor aborts with 401 when the request carries no actor.
func mustActor(c *gin.Context) (authorization.Actor, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
	}
	return actor, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
