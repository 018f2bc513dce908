package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"edu-knowledge-platform/internal/errs"
	"edu-knowledge-platform/models"
)

// DocumentRegistry tracks uploaded documents per tenant.
type DocumentRegistry interface {
	Create(ctx context.Context, doc *models.KnowledgeDocument) error
	GetByName(ctx context.Context, tenantID int64, name string) (*models.KnowledgeDocument, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.KnowledgeDocument, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]models.KnowledgeDocument, error)
	Finalize(ctx context.Context, id primitive.ObjectID, chunkCount, processedChunks int) error
	AdjustCounts(ctx context.Context, id primitive.ObjectID, chunkDelta, processedDelta int) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	DeleteByTenant(ctx context.Context, tenantID int64) (int64, error)
	CountByTenant(ctx context.Context, tenantID int64) (int64, error)
}

// MongoDocumentRegistry is the Mongo-backed registry over knowledge_documents.
type MongoDocumentRegistry struct {
	collection *mongo.Collection
}

func NewMongoDocumentRegistry(collection *mongo.Collection) *MongoDocumentRegistry {
	return &MongoDocumentRegistry{collection: collection}
}

func (r *MongoDocumentRegistry) Create(ctx context.Context, doc *models.KnowledgeDocument) error {
	now := time.Now()
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	doc.UploadedAt = now
	doc.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return errs.Transient("document.create", err)
	}
	return nil
}

func (r *MongoDocumentRegistry) GetByName(ctx context.Context, tenantID int64, name string) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	err := r.collection.FindOne(ctx, bson.M{
		"tenant_id":     tenantID,
		"original_name": name,
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Transient("document.get", err)
	}
	return &doc, nil
}

func (r *MongoDocumentRegistry) GetByID(ctx context.Context, id primitive.ObjectID) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Transient("document.get", err)
	}
	return &doc, nil
}

func (r *MongoDocumentRegistry) ListByTenant(ctx context.Context, tenantID int64) ([]models.KnowledgeDocument, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID},
		options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}}))
	if err != nil {
		return nil, errs.Transient("document.list", err)
	}
	defer cursor.Close(ctx)

	var docs []models.KnowledgeDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errs.Transient("document.list", err)
	}
	return docs, nil
}

// Finalize marks processing complete and records the final chunk counts.
func (r *MongoDocumentRegistry) Finalize(ctx context.Context, id primitive.ObjectID, chunkCount, processedChunks int) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"chunk_count":      chunkCount,
			"processed_chunks": processedChunks,
			"processing":       false,
			"updated_at":       time.Now(),
		}},
	)
	if err != nil {
		return errs.Transient("document.finalize", err)
	}
	if result.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// AdjustCounts applies deltas to a document's chunk counters after a
// chunk-level edit, keeping chunk_count in step with the surviving rows.
func (r *MongoDocumentRegistry) AdjustCounts(ctx context.Context, id primitive.ObjectID, chunkDelta, processedDelta int) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"chunk_count": chunkDelta, "processed_chunks": processedDelta},
			"$set": bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return errs.Transient("document.adjust", err)
	}
	if result.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *MongoDocumentRegistry) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return errs.Transient("document.delete", err)
	}
	return nil
}

func (r *MongoDocumentRegistry) DeleteByTenant(ctx context.Context, tenantID int64) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return 0, errs.Transient("document.delete_tenant", err)
	}
	return result.DeletedCount, nil
}

func (r *MongoDocumentRegistry) CountByTenant(ctx context.Context, tenantID int64) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return 0, errs.Transient("document.count", err)
	}
	return count, nil
}
