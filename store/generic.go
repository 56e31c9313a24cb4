package store

import (
	"context"
	"encoding/json"
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"
)

// Response reports the id and new revision of a completed write.
type Response struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// Save writes a document to a collection. Documents with an `_id` are put in
// place (the `_rev` field must carry the current revision for updates);
// documents without an id receive a CouchDB-generated UUID.
func Save[T any](ctx context.Context, s *Store, collection string, doc T) (*Response, error) {
	// Round-trip through a map so _id/_rev are visible regardless of the
	// concrete type.
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	var docMap map[string]interface{}
	if err := json.Unmarshal(jsonData, &docMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	var docID string
	if id, ok := docMap["_id"]; ok && id != nil && id != "" {
		docID = fmt.Sprintf("%v", id)
	}

	db := s.db(collection)

	var rev string
	if docID != "" {
		rev, err = db.Put(ctx, docID, docMap)
	} else {
		docID, rev, err = db.CreateDoc(ctx, docMap)
	}
	if err != nil {
		return nil, wrapKivik("save", err)
	}

	return &Response{OK: true, ID: docID, Rev: rev}, nil
}

// Get retrieves a typed document by id.
func Get[T any](ctx context.Context, s *Store, collection, id string) (*T, error) {
	row := s.db(collection).Get(ctx, id)
	if row.Err() != nil {
		if kivik.HTTPStatus(row.Err()) == 404 {
			return nil, &Error{
				StatusCode: 404,
				Op:         "get",
				Reason:     fmt.Sprintf("document %s not found", id),
			}
		}
		return nil, wrapKivik("get", row.Err())
	}

	var doc T
	if err := row.ScanDoc(&doc); err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	return &doc, nil
}

// Delete removes a document. The revision must be current.
func (s *Store) Delete(ctx context.Context, collection, id, rev string) error {
	if _, err := s.db(collection).Delete(ctx, id, rev); err != nil {
		return wrapKivik("delete", err)
	}
	return nil
}

// casAttempts bounds how many revision races one CAS update rides out.
const casAttempts = 3

// ErrCASAborted is returned when the mutate callback declines the update,
// typically because another worker already claimed the document.
var ErrCASAborted = fmt.Errorf("store: cas update aborted")

// UpdateCAS applies mutate to the current version of a document and writes it
// back, retrying on revision conflicts. The callback returns false to abort
// without writing (the document no longer satisfies the caller's predicate).
//
// This is the single-document findAndModify primitive: exactly one concurrent
// caller's write lands per revision, everyone else re-reads the winner's
// version and re-evaluates.
func UpdateCAS[T any](ctx context.Context, s *Store, collection, id string, mutate func(*T) (bool, error)) (*T, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		doc, err := Get[T](ctx, s, collection, id)
		if err != nil {
			return nil, err
		}

		apply, err := mutate(doc)
		if err != nil {
			return nil, err
		}
		if !apply {
			return nil, ErrCASAborted
		}

		resp, err := Save(ctx, s, collection, *doc)
		if err != nil {
			if IsConflict(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		return withRev(doc, resp.Rev)
	}
	return nil, fmt.Errorf("store: cas update on %s/%s exhausted retries: %w", collection, id, lastErr)
}

// withRev stamps the new revision into the document's _rev field.
func withRev[T any](doc *T, rev string) (*T, error) {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var docMap map[string]interface{}
	if err := json.Unmarshal(jsonData, &docMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	docMap["_rev"] = rev

	jsonData, err = json.Marshal(docMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var out T
	if err := json.Unmarshal(jsonData, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &out, nil
}
