// Package store provides session document persistence.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

var (
	// ErrNotFound is returned by Backend.Load when no document exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps infrastructure failures of a backend.
	ErrUnavailable = errors.New("session store unavailable")

	errClosed = errors.New("store closed")
)

// Document is the flat key/value record stored for a session.
type Document map[string]json.RawMessage

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	return maps.Clone(d)
}

type deleteField struct{}

// Delete marks a Patch field for removal. It is distinct from nil, which
// stores a JSON null.
var Delete = deleteField{}

// Patch is a shallow upsert. Keys absent from the patch are left untouched.
type Patch map[string]any

// Apply returns a copy of doc with the patch merged in.
func (p Patch) Apply(doc Document) (Document, error) {
	out := doc.Clone()
	for key, value := range p {
		if _, ok := value.(deleteField); ok {
			delete(out, key)
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", key, err)
		}
		out[key] = raw
	}
	return out, nil
}

// UpdateFunc transforms the current document (empty when absent) into the
// document to persist.
type UpdateFunc func(Document) (Document, error)

// Backend defines the interface for persisting session documents.
type Backend interface {
	// Load returns the document for id, or ErrNotFound.
	Load(ctx context.Context, id string) (Document, error)

	// Update atomically reads, transforms and writes the document for id.
	Update(ctx context.Context, id string, fn UpdateFunc) error

	// DeleteExpired removes documents not updated within ttl.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
