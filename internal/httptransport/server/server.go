package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridiansync/syncd/internal/httptransport"
	"github.com/meridiansync/syncd/internal/syncengine"
)

const authContextKey = "syncd_auth_subject"

var (
	errMissingService          = errors.New("sync service dependency required")
	errInvalidAuthorizationHdr = errors.New("authorization header missing or invalid")
)

// TokenValidator authorizes an incoming bearer token and returns its subject.
// internal/httptransport/apitoken.Issuer implements this.
type TokenValidator interface {
	Validate(tokenString string) (string, error)
}

// Dependencies wires a SyncService into an HTTP handler. TokenValidator is
// optional: when nil, every route is served unauthenticated, matching the
// spec's bearer token being an opt-in reference-transport feature rather
// than a requirement of the engine.
type Dependencies[T any] struct {
	Service        *SyncService[T]
	TokenValidator TokenValidator
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving GET /sync/pull, POST
// /sync/push and GET /health.
func NewHTTPHandler[T any](deps Dependencies[T]) (http.Handler, error) {
	if deps.Service == nil {
		return nil, errMissingService
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler[T]{service: deps.Service, tokens: deps.TokenValidator, logger: logger}

	router.GET("/health", handler.handleHealth)

	protected := router.Group("/")
	if handler.tokens != nil {
		protected.Use(handler.authorizeRequest)
	}
	protected.GET("/sync/pull", handler.handlePull)
	protected.POST("/sync/push", handler.handlePush)

	return router, nil
}

type httpHandler[T any] struct {
	service *SyncService[T]
	tokens  TokenValidator
	logger  *zap.Logger
}

func (h *httpHandler[T]) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler[T]) handlePull(c *gin.Context) {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
		return
	}

	result, err := h.service.Pull(c.Request.Context(), since)
	if err != nil {
		h.logger.Error("pull failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pull_failed"})
		return
	}

	body, err := httptransport.EncodePullResponse(result)
	if err != nil {
		h.logger.Error("failed to encode pull response", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *httpHandler[T]) handlePush(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	batch, err := httptransport.DecodeChangeBatch[T](raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.service.Push(c.Request.Context(), batch)
	if err != nil {
		h.logger.Error("push failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push_failed"})
		return
	}

	body, err := httptransport.EncodePushResponse(result)
	if err != nil {
		h.logger.Error("failed to encode push response", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *httpHandler[T]) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorizationHdr.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorizationHdr.Error()})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(authContextKey, subject)
	c.Next()
}

func parseSince(raw string) (syncengine.Timestamp, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return syncengine.Timestamp(value), nil
}
