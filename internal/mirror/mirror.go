// Package mirror maintains an eventually-consistent secondary copy of notes in
// a remote document store. The mirror is non-authoritative: the local store
// owns identity and content, and the mirror is rebuildable from it. Documents
// are addressed by an opaque store-assigned key; the only correlation with the
// local store is the local-identity field embedded in each document.
package mirror

import (
	"context"
	"errors"
)

// ErrDocumentNotFound indicates no mirror document exists for the given key or
// local identity. Callers treat it as an expected condition, not a failure.
var ErrDocumentNotFound = errors.New("mirror: document not found")

// Document is the remote representation of a note. LocalID carries the local
// numeric identity used for correlation. Optional fields are omitted from the
// encoded form when unset, so a merge-upsert leaves their remote values alone.
type Document struct {
	LocalID          int64    `json:"localId"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	CreatedAtSeconds int64    `json:"createdAtS"`
	CategoryID       int64    `json:"categoryId"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	ImagePath        string   `json:"imagePath,omitempty"`
}

// StoredDocument pairs a document with its opaque store-assigned key.
type StoredDocument struct {
	ID string
	Document
}

// Store is the mirror contract. Two deployment backends (S3 and WebDAV) and an
// in-memory backend for development and tests implement it.
type Store interface {
	// ListNotes returns all mirrored notes.
	ListNotes(ctx context.Context) ([]StoredDocument, error)

	// AddNote stores a new document and returns its assigned key.
	AddNote(ctx context.Context, doc Document) (string, error)

	// UpdateNote merge-upserts the document under an existing key: fields
	// absent from the encoded doc are left untouched on the remote side.
	UpdateNote(ctx context.Context, id string, doc Document) error

	// DeleteNote removes the document. Deleting an absent document is not an
	// error.
	DeleteNote(ctx context.Context, id string) error

	// GetNote fetches one document by key.
	GetNote(ctx context.Context, id string) (Document, error)

	// GetNoteByLocalID returns the first document whose embedded local
	// identity matches. This is a linear scan: the backends are object stores
	// with no secondary index on the correlation field, acceptable for small
	// note counts.
	GetNoteByLocalID(ctx context.Context, localID int64) (StoredDocument, error)
}

// findByLocalID implements the shared linear-scan lookup over ListNotes.
func findByLocalID(ctx context.Context, store Store, localID int64) (StoredDocument, error) {
	docs, err := store.ListNotes(ctx)
	if err != nil {
		return StoredDocument{}, err
	}
	for _, doc := range docs {
		if doc.LocalID == localID {
			return doc, nil
		}
	}
	return StoredDocument{}, ErrDocumentNotFound
}
