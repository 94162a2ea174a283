package mirror

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/studio-b12/gowebdav"
	"go.uber.org/zap"
)

// WebDAVOptions configures the WebDAV mirror backend.
type WebDAVOptions struct {
	Endpoint string
	User     string
	Password string
	Root     string
	Logger   *zap.Logger
}

// WebDAVStore mirrors notes as JSON files in a WebDAV collection under
// <root>/<key>.json. The gowebdav client carries its own timeout; the context
// on each call is accepted for contract symmetry but not threaded through.
type WebDAVStore struct {
	client *gowebdav.Client
	root   string
	logger *zap.Logger
}

// NewWebDAV builds the WebDAV mirror backend and ensures the collection exists.
func NewWebDAV(opts WebDAVOptions) (*WebDAVStore, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("mirror: webdav endpoint is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := gowebdav.NewClient(opts.Endpoint, opts.User, opts.Password)
	root := strings.Trim(opts.Root, "/")
	if root == "" {
		root = "notes"
	}
	if err := client.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mirror: create webdav collection: %w", err)
	}

	return &WebDAVStore{client: client, root: root, logger: logger}, nil
}

func (w *WebDAVStore) path(id string) string {
	return w.root + "/" + id + documentSuffix
}

func (w *WebDAVStore) ListNotes(ctx context.Context) ([]StoredDocument, error) {
	entries, err := w.client.ReadDir(w.root)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var docs []StoredDocument
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), documentSuffix) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), documentSuffix)
		data, err := w.client.Read(w.path(id))
		if err != nil {
			if gowebdav.IsErrNotFound(err) {
				continue
			}
			return nil, err
		}
		doc, err := decodeDocument(data)
		if err != nil {
			w.logger.Warn("skipping undecodable mirror document",
				zap.String("documentID", id),
				zap.Error(err))
			continue
		}
		docs = append(docs, StoredDocument{ID: id, Document: doc})
	}
	return docs, nil
}

func (w *WebDAVStore) AddNote(ctx context.Context, doc Document) (string, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := w.client.Write(w.path(id), data, os.FileMode(0o644)); err != nil {
		return "", err
	}
	return id, nil
}

func (w *WebDAVStore) UpdateNote(ctx context.Context, id string, doc Document) error {
	existing, err := w.client.Read(w.path(id))
	if err != nil && !gowebdav.IsErrNotFound(err) {
		return err
	}
	merged, err := mergeDocument(existing, doc)
	if err != nil {
		return err
	}
	return w.client.Write(w.path(id), merged, os.FileMode(0o644))
}

func (w *WebDAVStore) DeleteNote(ctx context.Context, id string) error {
	err := w.client.Remove(w.path(id))
	if err != nil && gowebdav.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (w *WebDAVStore) GetNote(ctx context.Context, id string) (Document, error) {
	data, err := w.client.Read(w.path(id))
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}
	return decodeDocument(data)
}

func (w *WebDAVStore) GetNoteByLocalID(ctx context.Context, localID int64) (StoredDocument, error) {
	return findByLocalID(ctx, w, localID)
}
