package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/mossline/fieldnotes/internal/attachments"
	"github.com/mossline/fieldnotes/internal/auth"
	"github.com/mossline/fieldnotes/internal/mirror"
	"github.com/mossline/fieldnotes/internal/notes"
	"github.com/mossline/fieldnotes/internal/settings"
	"gorm.io/gorm"
)

const (
	testDeviceKey     = "test-device-key"
	testSigningSecret = "test-signing-secret"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	store, err := notes.NewStore(notes.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	reconciler, err := notes.NewReconciler(mirror.NewMemory(), nil)
	if err != nil {
		t.Fatalf("failed to construct reconciler: %v", err)
	}
	settingsStore, err := settings.NewStore(settings.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct settings store: %v", err)
	}
	attachmentStore, err := attachments.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to construct attachment store: %v", err)
	}

	service, err := notes.NewService(notes.ServiceConfig{
		Store:       store,
		Reconciler:  reconciler,
		Settings:    settingsStore,
		Attachments: attachmentStore,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		DeviceKey:     testDeviceKey,
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "fieldnotes-auth",
		Audience:      "fieldnotes-api",
	})
	if err != nil {
		t.Fatalf("failed to construct token manager: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokenManager,
		NotesService: service,
		Events:       NewEventDispatcher(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func obtainToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	body := bytes.NewBufferString(fmt.Sprintf(`{"device_key":%q,"device_name":"tablet"}`, testDeviceKey))
	request := httptest.NewRequest(http.MethodPost, "/auth/token", body)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("token exchange failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response authResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse token response: %v", err)
	}
	if response.AccessToken == "" {
		t.Fatalf("expected non-empty access token")
	}
	return response.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, token, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, http.NoBody)
	} else {
		request = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestAuthTokenRejectsWrongDeviceKey(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, "", http.MethodPost, "/auth/token", `{"device_key":"wrong"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, "", http.MethodGet, "/notes", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, "garbage", http.MethodGet, "/notes", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with invalid token, got %d", recorder.Code)
	}
}

func TestSaveListAndDeleteNoteOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	recorder := doJSON(t, handler, token, http.MethodPost, "/notes",
		`{"title":"groceries","content":"milk","category_id":1}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("save failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var saved saveNoteResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &saved); err != nil {
		t.Fatalf("failed to parse save response: %v", err)
	}
	if saved.Note.ID == 0 {
		t.Fatalf("expected assigned note id")
	}
	if !saved.Mirrored {
		t.Fatalf("expected note mirrored")
	}

	recorder = doJSON(t, handler, token, http.MethodGet, "/notes", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("list failed with status %d", recorder.Code)
	}
	var listing struct {
		Notes []notePayload `json:"notes"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to parse list response: %v", err)
	}
	if len(listing.Notes) != 1 || listing.Notes[0].Title != "groceries" {
		t.Fatalf("unexpected listing: %+v", listing.Notes)
	}
	if listing.Notes[0].CategoryName != "General" {
		t.Fatalf("expected resolved category name, got %q", listing.Notes[0].CategoryName)
	}

	target := fmt.Sprintf("/notes/%d", saved.Note.ID)
	recorder = doJSON(t, handler, token, http.MethodDelete, target, "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("delete failed with status %d", recorder.Code)
	}

	recorder = doJSON(t, handler, token, http.MethodGet, target, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", recorder.Code)
	}
}

func TestSaveNoteMissingTitle(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	recorder := doJSON(t, handler, token, http.MethodPost, "/notes", `{"content":"orphan"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing title, got %d", recorder.Code)
	}
}

func TestUpdateMissingNoteReturnsNotFound(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	recorder := doJSON(t, handler, token, http.MethodPost, "/notes", `{"note_id":99,"title":"ghost"}`)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing note, got %d", recorder.Code)
	}
}

func TestCategoryEndpoints(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	recorder := doJSON(t, handler, token, http.MethodGet, "/categories", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("list failed with status %d", recorder.Code)
	}
	var listing struct {
		Categories []categoryPayload `json:"categories"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to parse list response: %v", err)
	}
	if len(listing.Categories) != 3 {
		t.Fatalf("expected 3 seeded categories, got %d", len(listing.Categories))
	}

	recorder = doJSON(t, handler, token, http.MethodPost, "/categories", `{"name":"Travel"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("create failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var created categoryPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to parse create response: %v", err)
	}
	if created.ID == 0 || created.Name != "Travel" {
		t.Fatalf("unexpected created category: %+v", created)
	}

	recorder = doJSON(t, handler, token, http.MethodPost, "/categories", `{"category_id":999,"name":"Ghost"}`)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 renaming missing category, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, token, http.MethodDelete, fmt.Sprintf("/categories/%d", created.ID), "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("delete failed with status %d", recorder.Code)
	}
}

func TestSelectionEndpoints(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	recorder := doJSON(t, handler, token, http.MethodGet, "/settings/last-selected-note", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any selection, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, token, http.MethodPut, "/settings/last-selected-note", `{"note_id":4}`)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("put failed with status %d", recorder.Code)
	}

	recorder = doJSON(t, handler, token, http.MethodGet, "/settings/last-selected-note", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("get failed with status %d", recorder.Code)
	}
	var selection selectionPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &selection); err != nil {
		t.Fatalf("failed to parse selection: %v", err)
	}
	if selection.NoteID != 4 {
		t.Fatalf("expected selection 4, got %d", selection.NoteID)
	}
}

func TestUploadAttachment(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	if _, err := part.Write([]byte("jpeg-bytes")); err != nil {
		t.Fatalf("failed to write form: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/attachments", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("upload failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		ImagePath string `json:"image_path"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse upload response: %v", err)
	}
	if response.ImagePath == "" {
		t.Fatalf("expected stored image path")
	}
}

func TestUploadAttachmentRejectsOversizeFile(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "huge.jpg")
	if err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	if _, err := part.Write(bytes.Repeat([]byte("x"), maxAttachmentBytes+1)); err != nil {
		t.Fatalf("failed to write form: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/attachments", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversize upload, got %d", recorder.Code)
	}
}
