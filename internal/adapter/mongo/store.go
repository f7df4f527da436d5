// Package mongo is the MongoDB document store, keeping CVs in the "cvs"
// collection keyed by their content identity.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tailorcv/backend/features/document"
	"tailorcv/backend/internal/identity"
)

const CollectionName = "cvs"

type record struct {
	ID             string    `bson:"_id"`
	CVText         string    `bson:"cv_text"`
	StructuredJSON string    `bson:"structured_json"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

type Store struct {
	coll *mongo.Collection
}

var _ document.Repository = (*Store)(nil)

func NewStore(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// Connect opens a client and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	})
	return err
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Put(ctx context.Context, doc *document.Document) (bool, error) {
	sections, err := identity.Canonical(doc.Sections)
	if err != nil {
		return false, fmt.Errorf("encode sections: %w", err)
	}
	rec := record{
		ID:             doc.ID,
		CVText:         doc.Text,
		StructuredJSON: string(sections),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = doc.CreatedAt
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"updated_at": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*document.Document, error) {
	return s.findOne(ctx, bson.M{"_id": id}, options.FindOne())
}

func (s *Store) Latest(ctx context.Context) (*document.Document, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	return s.findOne(ctx, bson.D{}, opts)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	return int(n), err
}

func (s *Store) findOne(ctx context.Context, filter interface{}, opts *options.FindOneOptions) (*document.Document, error) {
	var rec record
	err := s.coll.FindOne(ctx, filter, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc := &document.Document{ID: rec.ID, Text: rec.CVText, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}
	if err := json.Unmarshal([]byte(rec.StructuredJSON), &doc.Sections); err != nil {
		return nil, fmt.Errorf("decode sections of %s: %w", rec.ID, err)
	}
	return doc, nil
}
