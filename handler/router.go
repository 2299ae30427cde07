package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"health-companion/internal/domain"
	"health-companion/internal/observability"
	"health-companion/internal/usecase"
)

// Router serves the same API as Handle for local runs and container
// deployments.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.correlationMiddleware())
	r.HandleMethodNotAllowed = true

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.startSession)
		sessions.GET("/:id", h.getSession)
		sessions.POST("/:id/messages", h.sendMessage)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	})
	return r
}

func (h *Handler) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(observability.WithCorrelationID(c.Request.Context(), id))
		c.Header(correlationHeader, id)
		if h.allowedOrigin != "" {
			c.Header("Access-Control-Allow-Origin", h.allowedOrigin)
			c.Header("Access-Control-Allow-Headers", "Content-Type, "+correlationHeader)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
		observability.LoggerFromContext(c.Request.Context()).Info("request completed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

func (h *Handler) startSession(c *gin.Context) {
	var draft domain.ProfileDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(invalidBody())
		return
	}
	session, err := h.uc.StartSession(c.Request.Context(), draft)
	if err != nil {
		c.JSON(errorStatus(c.Request.Context(), err))
		return
	}
	c.JSON(http.StatusCreated, toSessionView(session))
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.uc.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errorStatus(c.Request.Context(), err))
		return
	}
	c.JSON(http.StatusOK, toSessionView(session))
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(invalidBody())
		return
	}
	out, err := h.uc.SendMessage(c.Request.Context(), usecase.SendInput{SessionID: c.Param("id"), Text: req.Text})
	if err != nil {
		c.JSON(errorStatus(c.Request.Context(), err))
		return
	}
	c.JSON(http.StatusOK, toSendResponse(out))
}
