package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mossline/fieldnotes/internal/notes"
	"github.com/mossline/fieldnotes/internal/settings"
	"go.uber.org/zap"
)

const deviceContextKey = "fieldnotes_device"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingNotesService  = errors.New("notes service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// DeviceTokenManager exchanges the shared device key for a bearer token and
// validates tokens on protected routes.
type DeviceTokenManager interface {
	IssueToken(ctx context.Context, deviceKey, deviceName string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenManager DeviceTokenManager
	NotesService *notes.Service
	Events       *EventDispatcher
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		notesService: deps.NotesService,
		events:       deps.Events,
		logger:       logger,
	}

	router.POST("/auth/token", handler.handleDeviceAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notes", handler.handleListNotes)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.POST("/notes", handler.handleSaveNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.GET("/categories", handler.handleListCategories)
	protected.POST("/categories", handler.handleSaveCategory)
	protected.DELETE("/categories/:id", handler.handleDeleteCategory)
	protected.POST("/attachments", handler.handleUploadAttachment)
	protected.GET("/settings/last-selected-note", handler.handleGetSelection)
	protected.PUT("/settings/last-selected-note", handler.handleSetSelection)
	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	tokens       DeviceTokenManager
	notesService *notes.Service
	events       *EventDispatcher
	logger       *zap.Logger
}

type authRequestPayload struct {
	DeviceKey  string `json:"device_key"`
	DeviceName string `json:"device_name"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleDeviceAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DeviceKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), request.DeviceKey, request.DeviceName)
	if err != nil {
		h.logger.Warn("device token exchange failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type notePayload struct {
	ID               int64    `json:"note_id"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	CreatedAtSeconds int64    `json:"created_at_s"`
	CategoryID       int64    `json:"category_id"`
	CategoryName     string   `json:"category_name,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	ImagePath        string   `json:"image_path,omitempty"`
}

type saveNoteRequestPayload struct {
	ID              int64    `json:"note_id"`
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	CategoryID      int64    `json:"category_id"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	ImagePath       string   `json:"image_path"`
	CaptureLocation bool     `json:"capture_location"`
	ReminderAtUnix  *int64   `json:"reminder_at_s"`
}

type saveNoteResponsePayload struct {
	Note        notePayload `json:"note"`
	ReminderKey int64       `json:"reminder_key,omitempty"`
	Mirrored    bool        `json:"mirrored"`
	Warnings    []string    `json:"warnings,omitempty"`
}

func noteToPayload(note notes.Note, categoryName string) notePayload {
	return notePayload{
		ID:               note.ID,
		Title:            note.Title,
		Content:          note.Content,
		CreatedAtSeconds: note.CreatedAtSeconds,
		CategoryID:       note.CategoryID,
		CategoryName:     categoryName,
		Latitude:         note.Latitude,
		Longitude:        note.Longitude,
		ImagePath:        note.ImagePath,
	}
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	listed, err := h.notesService.ListNotes(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list notes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]notePayload, 0, len(listed))
	for _, entry := range listed {
		payload = append(payload, noteToPayload(entry.Note, entry.CategoryName))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payload})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	note, err := h.notesService.GetNote(c.Request.Context(), id)
	if errors.Is(err, notes.ErrNoteNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load note", zap.Int64("noteID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}
	c.JSON(http.StatusOK, noteToPayload(note, ""))
}

func (h *httpHandler) handleSaveNote(c *gin.Context) {
	var request saveNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	saveRequest := notes.SaveRequest{
		ID:              request.ID,
		Title:           strings.TrimSpace(request.Title),
		Content:         request.Content,
		CategoryID:      request.CategoryID,
		Latitude:        request.Latitude,
		Longitude:       request.Longitude,
		ImagePath:       request.ImagePath,
		CaptureLocation: request.CaptureLocation,
	}
	if request.ReminderAtUnix != nil {
		fireAt := time.Unix(*request.ReminderAtUnix, 0).UTC()
		saveRequest.ReminderAt = &fireAt
	}

	result, err := h.notesService.SaveNote(c.Request.Context(), saveRequest)
	if err != nil {
		var serviceErr *notes.ServiceError
		if errors.As(err, &serviceErr) {
			switch {
			case strings.HasSuffix(serviceErr.Code(), ".missing_title"):
				c.JSON(http.StatusBadRequest, gin.H{"error": "missing_title"})
				return
			case strings.HasSuffix(serviceErr.Code(), ".not_found"):
				c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
				return
			}
		}
		h.logger.Error("failed to save note", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}

	c.JSON(http.StatusOK, saveNoteResponsePayload{
		Note:        noteToPayload(result.Note, ""),
		ReminderKey: result.ReminderKey,
		Mirrored:    result.Mirrored,
		Warnings:    result.Warnings,
	})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.notesService.DeleteNote(c.Request.Context(), id); err != nil {
		h.logger.Error("failed to delete note", zap.Int64("noteID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type categoryPayload struct {
	ID   int64  `json:"category_id"`
	Name string `json:"name"`
}

func (h *httpHandler) handleListCategories(c *gin.Context) {
	categories, err := h.notesService.ListCategories(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list categories", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		payload = append(payload, categoryPayload{ID: category.ID, Name: category.Name})
	}
	c.JSON(http.StatusOK, gin.H{"categories": payload})
}

func (h *httpHandler) handleSaveCategory(c *gin.Context) {
	var request categoryPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	category := notes.Category{ID: request.ID, Name: strings.TrimSpace(request.Name)}
	affected, err := h.notesService.SaveCategory(c.Request.Context(), &category)
	if err != nil {
		h.logger.Error("failed to save category", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, categoryPayload{ID: category.ID, Name: category.Name})
}

func (h *httpHandler) handleDeleteCategory(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.notesService.DeleteCategory(c.Request.Context(), notes.Category{ID: id}); err != nil {
		h.logger.Error("failed to delete category", zap.Int64("categoryID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUploadAttachment(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	defer file.Close()

	if header.Size > maxAttachmentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment_too_large"})
		return
	}

	path, err := h.notesService.SaveAttachment(c.Request.Context(), file, header.Filename)
	if err != nil {
		h.logger.Error("failed to store attachment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_path": path})
}

const maxAttachmentBytes = 32 << 20

type selectionPayload struct {
	NoteID int64 `json:"note_id"`
}

func (h *httpHandler) handleGetSelection(c *gin.Context) {
	id, err := h.notesService.LastSelectedNoteID(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read selection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}
	if id == settings.NoSelection {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_selection"})
		return
	}
	c.JSON(http.StatusOK, selectionPayload{NoteID: id})
}

func (h *httpHandler) handleSetSelection(c *gin.Context) {
	var request selectionPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.NoteID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.notesService.SetLastSelectedNoteID(c.Request.Context(), request.NoteID); err != nil {
		h.logger.Error("failed to persist selection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type eventPayload struct {
	Type      string `json:"type"`
	NoteID    int64  `json:"note_id"`
	Timestamp int64  `json:"timestamp_s"`
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "events_disabled"})
		return
	}
	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx)
	defer cleanup()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, eventPayload{
				Type:      event.Type,
				NoteID:    event.NoteID,
				Timestamp: event.At.Unix(),
			})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(deviceContextKey, subject)
	c.Next()
}

func parseIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}
