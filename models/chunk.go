package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// KnowledgeChunk is one retrievable unit of document text. The chunk_id is
// globally unique and doubles as the vector index key; the vector entry for a
// chunk exists if and only if Processed is true.
type KnowledgeChunk struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ChunkID      string             `bson:"chunk_id" json:"chunk_id"`
	TenantID     int64              `bson:"tenant_id" json:"tenant_id"`
	DocumentID   primitive.ObjectID `bson:"document_id" json:"document_id"`
	DocumentName string             `bson:"document_name" json:"document_name"`
	Ordinal      int                `bson:"ordinal" json:"ordinal"`
	Content      string             `bson:"content" json:"content"`
	SizeBytes    int64              `bson:"size_bytes" json:"-"`
	Compressed   bool               `bson:"compressed,omitempty" json:"-"`
	Compression  string             `bson:"compression,omitempty" json:"-"`
	Processed    bool               `bson:"processed" json:"processed"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// Preview returns a bounded excerpt of the chunk content for listings.
func (c *KnowledgeChunk) Preview(maxRunes int) string {
	runes := []rune(c.Content)
	if len(runes) <= maxRunes {
		return c.Content
	}
	return string(runes[:maxRunes]) + "..."
}
