package vectorindex

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"edu-knowledge-platform/internal/errs"
)

// Mongo stores vector entries in a dedicated collection. Queries use Atlas
// $vectorSearch when an index name is configured; otherwise similarity is
// computed in-process over the tenant's entries, which is adequate for
// per-course corpus sizes.
type Mongo struct {
	collection *mongo.Collection
	indexName  string
	useAtlas   bool
	timeout    time.Duration
}

type MongoConfig struct {
	Collection *mongo.Collection
	IndexName  string
	UseAtlas   bool
	Timeout    time.Duration
}

func NewMongo(cfg MongoConfig) *Mongo {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Mongo{
		collection: cfg.Collection,
		indexName:  cfg.IndexName,
		useAtlas:   cfg.UseAtlas,
		timeout:    timeout,
	}
}

type vectorDoc struct {
	ChunkID  string    `bson:"chunk_id"`
	TenantID int64     `bson:"tenant_id"`
	Vector   []float32 `bson:"vector"`
}

func (m *Mongo) Upsert(ctx context.Context, entry Entry) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.collection.UpdateOne(ctx,
		bson.M{"chunk_id": entry.ChunkID},
		bson.M{"$set": bson.M{
			"chunk_id":  entry.ChunkID,
			"tenant_id": entry.TenantID,
			"vector":    entry.Vector,
		}},
		options.Update().SetUpsert(true))
	if err != nil {
		return errs.Transient("vectorindex.upsert", err)
	}
	return nil
}

func (m *Mongo) Delete(ctx context.Context, chunkID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	// DeleteOne of a missing key matches nothing; that is still success.
	_, err := m.collection.DeleteOne(ctx, bson.M{"chunk_id": chunkID})
	if err != nil {
		return errs.Transient("vectorindex.delete", err)
	}
	return nil
}

func (m *Mongo) DeleteTenant(ctx context.Context, tenantID int64) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.collection.DeleteMany(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return errs.Transient("vectorindex.delete_tenant", err)
	}
	return nil
}

func (m *Mongo) Query(ctx context.Context, vector []float32, topK int, tenants []int64) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if m.useAtlas {
		return m.queryAtlas(ctx, vector, topK, tenants)
	}
	return m.queryScan(ctx, vector, topK, tenants)
}

// queryAtlas delegates ranking to the Atlas vector search index.
func (m *Mongo) queryAtlas(ctx context.Context, vector []float32, topK int, tenants []int64) ([]Match, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.M{
			"index":         m.indexName,
			"path":          "vector",
			"queryVector":   vector,
			"numCandidates": topK * 10,
			"limit":         topK,
			"filter":        bson.M{"tenant_id": bson.M{"$in": tenants}},
		}}},
		{{Key: "$project", Value: bson.M{
			"chunk_id":  1,
			"tenant_id": 1,
			"score":     bson.M{"$meta": "vectorSearchScore"},
		}}},
	}

	cursor, err := m.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errs.Transient("vectorindex.query", err)
	}
	defer cursor.Close(ctx)

	var matches []Match
	for cursor.Next(ctx) {
		var row struct {
			ChunkID  string  `bson:"chunk_id"`
			TenantID int64   `bson:"tenant_id"`
			Score    float64 `bson:"score"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, errs.Transient("vectorindex.query", err)
		}
		matches = append(matches, Match{ChunkID: row.ChunkID, TenantID: row.TenantID, Score: row.Score})
	}
	if err := cursor.Err(); err != nil {
		return nil, errs.Transient("vectorindex.query", err)
	}
	return matches, nil
}

// queryScan streams the tenant's vectors and scores them in-process.
func (m *Mongo) queryScan(ctx context.Context, vector []float32, topK int, tenants []int64) ([]Match, error) {
	cursor, err := m.collection.Find(ctx, bson.M{"tenant_id": bson.M{"$in": tenants}})
	if err != nil {
		return nil, errs.Transient("vectorindex.query", err)
	}
	defer cursor.Close(ctx)

	var matches []Match
	for cursor.Next(ctx) {
		var doc vectorDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errs.Transient("vectorindex.query", err)
		}
		matches = append(matches, Match{
			ChunkID:  doc.ChunkID,
			TenantID: doc.TenantID,
			Score:    CosineSimilarity(vector, doc.Vector),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, errs.Transient("vectorindex.query", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
