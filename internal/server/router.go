package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/atelierhq/atelier/backend/internal/auth"
	"github.com/atelierhq/atelier/backend/internal/collab"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingHub            = errors.New("collaboration hub dependency required")
)

// TokenValidator resolves a caller credential to an identity, once, at connect time.
type TokenValidator interface {
	Validate(token string) (auth.CollabClaims, error)
}

// Dependencies wires the HTTP surface to the collaboration engine.
type Dependencies struct {
	TokenValidator TokenValidator
	Hub            *collab.Hub
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the health probe and the
// collaboration websocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Hub == nil {
		return nil, errMissingHub
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

	handler := &httpHandler{
		tokens: deps.TokenValidator,
		hub:    deps.Hub,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/collab/ws", handler.handleCollabSocket)

	return router, nil
}

type httpHandler struct {
	tokens TokenValidator
	hub    *collab.Hub
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
