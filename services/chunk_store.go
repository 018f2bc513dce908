package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"edu-knowledge-platform/internal/errs"
	"edu-knowledge-platform/models"
	"edu-knowledge-platform/utils"
)

// ChunkStore persists chunk rows and serves hydration during retrieval.
type ChunkStore interface {
	Insert(ctx context.Context, chunk *models.KnowledgeChunk) error
	GetByChunkID(ctx context.Context, chunkID string) (*models.KnowledgeChunk, error)
	GetByChunkIDs(ctx context.Context, chunkIDs []string) (map[string]*models.KnowledgeChunk, error)
	ListByTenant(ctx context.Context, tenantID int64, limit, offset int64) ([]models.KnowledgeChunk, error)
	ListByDocument(ctx context.Context, documentID primitive.ObjectID) ([]models.KnowledgeChunk, error)
	UpdateContent(ctx context.Context, chunkID, content string) error
	MarkProcessed(ctx context.Context, chunkID string, processed bool) error
	Delete(ctx context.Context, chunkID string) error
	DeleteByDocument(ctx context.Context, documentID primitive.ObjectID) (int64, error)
	DeleteByTenant(ctx context.Context, tenantID int64) (int64, error)
	CountByTenant(ctx context.Context, tenantID int64) (total int64, processed int64, err error)
	TotalBytesByTenant(ctx context.Context, tenantID int64) (int64, error)
}

// MongoChunkStore stores chunk content compressed at rest and transparently
// decompresses on read.
type MongoChunkStore struct {
	collection *mongo.Collection
}

func NewMongoChunkStore(collection *mongo.Collection) *MongoChunkStore {
	return &MongoChunkStore{collection: collection}
}

func (s *MongoChunkStore) Insert(ctx context.Context, chunk *models.KnowledgeChunk) error {
	now := time.Now()
	stored := *chunk
	if stored.ID.IsZero() {
		stored.ID = primitive.NewObjectID()
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := compressChunkContent(&stored); err != nil {
		return fmt.Errorf("failed to compress chunk: %w", err)
	}

	if _, err := s.collection.InsertOne(ctx, &stored); err != nil {
		return errs.Transient("chunk.insert", err)
	}
	chunk.ID = stored.ID
	chunk.CreatedAt = stored.CreatedAt
	chunk.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MongoChunkStore) GetByChunkID(ctx context.Context, chunkID string) (*models.KnowledgeChunk, error) {
	var chunk models.KnowledgeChunk
	err := s.collection.FindOne(ctx, bson.M{"chunk_id": chunkID}).Decode(&chunk)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Transient("chunk.get", err)
	}
	if err := decompressChunkContent(&chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// GetByChunkIDs hydrates a batch of chunk ids in one query. Missing ids are
// simply absent from the result map.
func (s *MongoChunkStore) GetByChunkIDs(ctx context.Context, chunkIDs []string) (map[string]*models.KnowledgeChunk, error) {
	if len(chunkIDs) == 0 {
		return map[string]*models.KnowledgeChunk{}, nil
	}

	cursor, err := s.collection.Find(ctx, bson.M{"chunk_id": bson.M{"$in": chunkIDs}})
	if err != nil {
		return nil, errs.Transient("chunk.hydrate", err)
	}
	defer cursor.Close(ctx)

	result := make(map[string]*models.KnowledgeChunk, len(chunkIDs))
	for cursor.Next(ctx) {
		var chunk models.KnowledgeChunk
		if err := cursor.Decode(&chunk); err != nil {
			return nil, errs.Transient("chunk.hydrate", err)
		}
		if err := decompressChunkContent(&chunk); err != nil {
			return nil, err
		}
		result[chunk.ChunkID] = &chunk
	}
	if err := cursor.Err(); err != nil {
		return nil, errs.Transient("chunk.hydrate", err)
	}
	return result, nil
}

func (s *MongoChunkStore) ListByTenant(ctx context.Context, tenantID int64, limit, offset int64) ([]models.KnowledgeChunk, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "document_id", Value: 1},
		{Key: "ordinal", Value: 1},
	}).SetSkip(offset)
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.collection.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, errs.Transient("chunk.list", err)
	}
	defer cursor.Close(ctx)

	var chunks []models.KnowledgeChunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, errs.Transient("chunk.list", err)
	}
	for i := range chunks {
		if err := decompressChunkContent(&chunks[i]); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

func (s *MongoChunkStore) ListByDocument(ctx context.Context, documentID primitive.ObjectID) ([]models.KnowledgeChunk, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"document_id": documentID},
		options.Find().SetSort(bson.D{{Key: "ordinal", Value: 1}}))
	if err != nil {
		return nil, errs.Transient("chunk.list_document", err)
	}
	defer cursor.Close(ctx)

	var chunks []models.KnowledgeChunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, errs.Transient("chunk.list_document", err)
	}
	for i := range chunks {
		if err := decompressChunkContent(&chunks[i]); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

func (s *MongoChunkStore) UpdateContent(ctx context.Context, chunkID, content string) error {
	stored := models.KnowledgeChunk{Content: content}
	if err := compressChunkContent(&stored); err != nil {
		return fmt.Errorf("failed to compress chunk: %w", err)
	}

	result, err := s.collection.UpdateOne(ctx,
		bson.M{"chunk_id": chunkID},
		bson.M{"$set": bson.M{
			"content":     stored.Content,
			"size_bytes":  stored.SizeBytes,
			"compressed":  stored.Compressed,
			"compression": stored.Compression,
			"updated_at":  time.Now(),
		}},
	)
	if err != nil {
		return errs.Transient("chunk.update", err)
	}
	if result.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *MongoChunkStore) MarkProcessed(ctx context.Context, chunkID string, processed bool) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"chunk_id": chunkID},
		bson.M{"$set": bson.M{"processed": processed, "updated_at": time.Now()}},
	)
	if err != nil {
		return errs.Transient("chunk.mark", err)
	}
	if result.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a chunk row. Deleting a missing chunk is not an error.
func (s *MongoChunkStore) Delete(ctx context.Context, chunkID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"chunk_id": chunkID}); err != nil {
		return errs.Transient("chunk.delete", err)
	}
	return nil
}

func (s *MongoChunkStore) DeleteByDocument(ctx context.Context, documentID primitive.ObjectID) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return 0, errs.Transient("chunk.delete_document", err)
	}
	return result.DeletedCount, nil
}

func (s *MongoChunkStore) DeleteByTenant(ctx context.Context, tenantID int64) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return 0, errs.Transient("chunk.delete_tenant", err)
	}
	return result.DeletedCount, nil
}

func (s *MongoChunkStore) CountByTenant(ctx context.Context, tenantID int64) (int64, int64, error) {
	total, err := s.collection.CountDocuments(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return 0, 0, errs.Transient("chunk.count", err)
	}
	processed, err := s.collection.CountDocuments(ctx, bson.M{"tenant_id": tenantID, "processed": true})
	if err != nil {
		return 0, 0, errs.Transient("chunk.count", err)
	}
	return total, processed, nil
}

// TotalBytesByTenant sums the original (uncompressed) content size per tenant.
func (s *MongoChunkStore) TotalBytesByTenant(ctx context.Context, tenantID int64) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"tenant_id": tenantID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$size_bytes"},
		}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, errs.Transient("chunk.bytes", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, errs.Transient("chunk.bytes", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func compressChunkContent(chunk *models.KnowledgeChunk) error {
	chunk.SizeBytes = int64(len(chunk.Content))
	compressed, algorithm, err := utils.CompressText(chunk.Content)
	if err != nil {
		return err
	}
	chunk.Compressed = true
	chunk.Compression = string(algorithm)
	chunk.Content = base64.StdEncoding.EncodeToString(compressed)
	return nil
}

func decompressChunkContent(chunk *models.KnowledgeChunk) error {
	if !chunk.Compressed {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(chunk.Content)
	if err != nil {
		return fmt.Errorf("failed to decode chunk content: %w", err)
	}
	text, err := utils.DecompressText(raw, utils.CompressionAlgorithm(chunk.Compression))
	if err != nil {
		return fmt.Errorf("failed to decompress chunk content: %w", err)
	}
	chunk.Content = text
	chunk.Compressed = false
	chunk.Compression = ""
	return nil
}
