// Package http exposes the shell-facing REST interface: conversation
// CRUD and search for the side panel, plus popup introspection and
// shutdown hooks.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/claudedesk/backend/internal/domain/conversation"
	"github.com/claudedesk/backend/internal/domain/popup"
	"github.com/claudedesk/backend/internal/infrastructure/logging"
)

// Handlers bundles the shell-facing HTTP endpoints.
type Handlers struct {
	store  *conversation.Store
	popups *popup.Manager
	logger *logging.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(store *conversation.Store, popups *popup.Manager, logger *logging.Logger) *Handlers {
	return &Handlers{
		store:  store,
		popups: popups,
		logger: logger,
	}
}

// Root returns service identification.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "claudedesk-backend",
		"status":  "running",
	})
}

// Health reports liveness and basic counts.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"conversations": h.store.Count(),
		"popups":        len(h.popups.List()),
	})
}

// ListConversations returns all records, most recently updated first.
func (h *Handlers) ListConversations(c *gin.Context) {
	records := h.store.List()
	c.JSON(http.StatusOK, gin.H{
		"conversations": records,
		"count":         len(records),
	})
}

type createConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

// CreateConversation starts a new empty conversation.
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.store.Create(req.Title)
	if err != nil {
		h.logger.Error("Failed to create conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// GetConversation returns a single record.
func (h *Handlers) GetConversation(c *gin.Context) {
	rec, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type renameConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

// RenameConversation updates a record's title.
func (h *Handlers) RenameConversation(c *gin.Context) {
	var req renameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.store.Rename(c.Param("id"), req.Title)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type appendMessageRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// AppendMessage appends a message to a conversation.
func (h *Handlers) AppendMessage(c *gin.Context) {
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.store.AppendMessage(c.Param("id"), conversation.Role(req.Role), req.Content)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteConversation removes a record. Idempotent: deleting an unknown
// id still succeeds.
func (h *Handlers) DeleteConversation(c *gin.Context) {
	if err := h.store.Delete(c.Param("id")); err != nil {
		h.logger.Error("Failed to delete conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// SearchConversations matches the q parameter against titles and
// message content.
func (h *Handlers) SearchConversations(c *gin.Context) {
	results := h.store.Search(c.Query("q"))
	c.JSON(http.StatusOK, gin.H{
		"conversations": results,
		"count":         len(results),
	})
}

// ExportConversation renders a record as json, markdown, or text.
func (h *Handlers) ExportConversation(c *gin.Context) {
	format := conversation.Format(c.DefaultQuery("format", string(conversation.FormatMarkdown)))

	data, err := h.store.Export(c.Param("id"), format)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	contentType := "text/plain; charset=utf-8"
	if format == conversation.FormatJSON {
		contentType = "application/json"
	}
	c.Data(http.StatusOK, contentType, data)
}

// ListPopups returns the tracked auxiliary windows.
func (h *Handlers) ListPopups(c *gin.Context) {
	popups := h.popups.List()
	c.JSON(http.StatusOK, gin.H{
		"popups": popups,
		"count":  len(popups),
	})
}

// CloseAllPopups tears down every tracked popup; the shell calls this
// at shutdown.
func (h *Handlers) CloseAllPopups(c *gin.Context) {
	h.popups.CloseAll()
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (h *Handlers) respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, conversation.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Store operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
