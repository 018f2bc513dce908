package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BaseTenantID is the reserved tenant for the shared knowledge pool. Its
// documents are visible to every tenant's retrieval query when explicitly
// requested; it flows through the same code paths as any other tenant.
const BaseTenantID int64 = 0

// KnowledgeDocument is one uploaded source file and its aggregate counters.
type KnowledgeDocument struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID        int64              `bson:"tenant_id" json:"tenant_id"`
	OriginalName    string             `bson:"original_name" json:"original_name"`
	ContentType     string             `bson:"content_type,omitempty" json:"content_type,omitempty"`
	Size            int64              `bson:"size" json:"size"`
	Description     string             `bson:"description,omitempty" json:"description,omitempty"`
	ChunkCount      int                `bson:"chunk_count" json:"chunk_count"`
	ProcessedChunks int                `bson:"processed_chunks" json:"processed_chunks"`
	Processing      bool               `bson:"processing" json:"processing"`
	UploadedAt      time.Time          `bson:"uploaded_at" json:"uploaded_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}
