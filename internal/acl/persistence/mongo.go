// Package persistence provides the MongoDB-backed store for access-control
// entries and parent links. One document per subject keeps the full ACE list,
// so a permission check costs a single keyed read.
package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/google/uuid"

	"github.com/sensorgrid/sensorgrid-go/internal/acl"
	"github.com/sensorgrid/sensorgrid-go/internal/common"
	"github.com/sensorgrid/sensorgrid-go/internal/permission"
)

type aclDocument struct {
	Key     string        `bson:"_id"`
	Parent  string        `bson:"parent,omitempty"`
	Entries []entryRecord `bson:"entries"`
}

type entryRecord struct {
	Grantee    string `bson:"grantee"`
	Permission int    `bson:"permission"`
	Granting   bool   `bson:"granting"`
}

// MongoStore implements acl.Store on a MongoDB collection.
type MongoStore struct {
	collection *mongo.Collection
}

var _ acl.Store = (*MongoStore)(nil)

// NewMongoStore connects to MongoDB and returns a store over the configured
// collection.
func NewMongoStore(ctx context.Context, cfg common.MongoConfig) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, common.NewErrStoreUnavailable(err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, common.NewErrStoreUnavailable(err)
	}
	return &MongoStore{
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// NewMongoStoreWithCollection wraps an existing collection, used by tests and
// callers that manage their own client.
func NewMongoStoreWithCollection(c *mongo.Collection) *MongoStore {
	return &MongoStore{collection: c}
}

// Entries returns the full ACE list for the subject key.
func (s *MongoStore) Entries(ctx context.Context, key string) ([]acl.Entry, bool, error) {
	var doc aclDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, common.NewErrStoreUnavailable(err)
	}
	entries := make([]acl.Entry, 0, len(doc.Entries))
	for _, record := range doc.Entries {
		grantee, err := uuid.Parse(record.Grantee)
		if err != nil {
			// a corrupt grantee row can never match a real sid; skip it
			continue
		}
		entries = append(entries, acl.Entry{
			Grantee:    grantee,
			Permission: permission.Permission(record.Permission),
			Granting:   record.Granting,
		})
	}
	return entries, true, nil
}

// SaveEntries replaces the ACE list for the subject key, creating the
// document on first write.
func (s *MongoStore) SaveEntries(ctx context.Context, key string, entries []acl.Entry) error {
	records := make([]entryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, entryRecord{
			Grantee:    entry.Grantee.String(),
			Permission: entry.Permission.Mask(),
			Granting:   entry.Granting,
		})
	}
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"entries": records}},
		options.Update().SetUpsert(true))
	if err != nil {
		return common.NewErrStoreUnavailable(err)
	}
	return nil
}

// DeleteEntry pulls one (grantee, permission) entry out of the subject's
// list. Deleting an absent entry is a no-op.
func (s *MongoStore) DeleteEntry(ctx context.Context, key string, grantee acl.Sid, p permission.Permission) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$pull": bson.M{"entries": bson.M{
			"grantee":    grantee.String(),
			"permission": p.Mask(),
		}}})
	if err != nil {
		return common.NewErrStoreUnavailable(err)
	}
	return nil
}

// SetParent records the inheritance link for the subject key.
func (s *MongoStore) SetParent(ctx context.Context, key, parentKey string) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"parent": parentKey}},
		options.Update().SetUpsert(true))
	if err != nil {
		return common.NewErrStoreUnavailable(err)
	}
	return nil
}

// Parent returns the recorded parent key for the subject, if any.
func (s *MongoStore) Parent(ctx context.Context, key string) (string, bool, error) {
	var doc aclDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key},
		options.FindOne().SetProjection(bson.M{"parent": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, common.NewErrStoreUnavailable(err)
	}
	if doc.Parent == "" {
		return "", false, nil
	}
	return doc.Parent, true, nil
}
