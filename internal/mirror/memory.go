package mirror

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process mirror backend used for development runs and tests.
// It applies the same codec and merge semantics as the remote backends.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory constructs an empty in-memory mirror.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) ListNotes(ctx context.Context) ([]StoredDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]StoredDocument, 0, len(m.docs))
	for id, data := range m.docs {
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, StoredDocument{ID: id, Document: doc})
	}
	return docs, nil
}

func (m *Memory) AddNote(ctx context.Context, doc Document) (string, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.docs[id] = data
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) UpdateNote(ctx context.Context, id string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged, err := mergeDocument(m.docs[id], doc)
	if err != nil {
		return err
	}
	m.docs[id] = merged
	return nil
}

func (m *Memory) DeleteNote(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetNote(ctx context.Context, id string) (Document, error) {
	m.mu.RLock()
	data, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	return decodeDocument(data)
}

func (m *Memory) GetNoteByLocalID(ctx context.Context, localID int64) (StoredDocument, error) {
	return findByLocalID(ctx, m, localID)
}

// Len reports the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
