package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

const organizationsCollection = "organizations"

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Page is a slice of documents plus the id to resume after.
type Page[T any] struct {
	Documents []Document[T]
	LastID    string
	HasMore   bool
}

// OrgCollection provides typed access to organizations/{orgID}/{name} subcollections. Every
// tenant's data lives under its organization document so queries can never cross tenants.
type OrgCollection[T any] struct {
	provider *Provider
	name     string
}

// NewOrgCollection binds a typed helper to the named organization subcollection.
func NewOrgCollection[T any](provider *Provider, name string) *OrgCollection[T] {
	return &OrgCollection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Create writes value under id and fails with a conflict when the document already exists.
func (c *OrgCollection[T]) Create(ctx context.Context, orgID, id string, value T) error {
	doc, err := c.DocumentRef(ctx, orgID, id)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, value); err != nil {
		return WrapError(c.op("create"), err)
	}
	return nil
}

// Set upserts value under id.
func (c *OrgCollection[T]) Set(ctx context.Context, orgID, id string, value T, opts ...firestore.SetOption) error {
	doc, err := c.DocumentRef(ctx, orgID, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value, opts...); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Update applies partial updates to the document.
func (c *OrgCollection[T]) Update(ctx context.Context, orgID, id string, updates []firestore.Update, preconditions ...firestore.Precondition) error {
	doc, err := c.DocumentRef(ctx, orgID, id)
	if err != nil {
		return err
	}
	if _, err := doc.Update(ctx, updates, preconditions...); err != nil {
		return WrapError(c.op("update"), err)
	}
	return nil
}

// Get fetches the document by id and decodes it.
func (c *OrgCollection[T]) Get(ctx context.Context, orgID, id string) (Document[T], error) {
	doc, err := c.DocumentRef(ctx, orgID, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return decodeDocument[T](snapshot)
}

// Query executes a query and returns up to limit documents after the document named by
// afterID. The query is ordered by build and then document id so cursors are stable.
func (c *OrgCollection[T]) Query(ctx context.Context, orgID string, build QueryBuilder, limit int, afterID string) (Page[T], error) {
	coll, err := c.CollectionRef(ctx, orgID)
	if err != nil {
		return Page[T]{}, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}
	if afterID = strings.TrimSpace(afterID); afterID != "" {
		cursor, err := coll.Doc(afterID).Get(ctx)
		if err != nil {
			return Page[T]{}, WrapError(c.op("cursor"), err)
		}
		query = query.StartAfter(cursor)
	}
	if limit > 0 {
		query = query.Limit(limit + 1)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var page Page[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return Page[T]{}, WrapError(c.op("query"), err)
		}
		if limit > 0 && len(page.Documents) == limit {
			page.HasMore = true
			break
		}
		decoded, err := decodeDocument[T](snapshot)
		if err != nil {
			return Page[T]{}, err
		}
		page.Documents = append(page.Documents, decoded)
	}
	if n := len(page.Documents); n > 0 {
		page.LastID = page.Documents[n-1].ID
	}
	return page, nil
}

// CollectionRef returns the organization scoped collection reference.
func (c *OrgCollection[T]) CollectionRef(ctx context.Context, orgID string) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError("firestore.collection", errors.New("firestore: provider is nil"))
	}
	org, err := c.provider.Organization(ctx, orgID)
	if err != nil {
		return nil, WrapError(c.op("collection"), err)
	}
	return org.Collection(c.name), nil
}

// DocumentRef exposes the document reference for transactions.
func (c *OrgCollection[T]) DocumentRef(ctx context.Context, orgID, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.CollectionRef(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *OrgCollection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

func decodeDocument[T any](snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snapshot.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       data,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}
