package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/baifan1366/studify-pipeline/internal/domain"
)

// QdrantConnectionConfig holds configuration for one Qdrant collection.
// Each embedding model owns its own collection so vectors of different
// dimensionality (and provenance) never share a search space.
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without an API key
	VectorDimension int
	Model           string // embedding model tag stamped on every point
}

// apiKeyInterceptor creates a unary interceptor that adds the API key
// to outgoing metadata.
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository handles vector operations for a single collection.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
	model           string
}

// NewQdrantRepository creates a QdrantRepository.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API key).
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	if cfg.VectorDimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: cfg.VectorDimension,
		model:           cfg.Model,
	}, nil
}

// Close closes the gRPC connection.
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// Collection returns the collection name this repository writes to.
func (r *QdrantRepository) Collection() string {
	return r.collectionName
}

// Model returns the embedding model tag bound to this collection.
func (r *QdrantRepository) Model() string {
	return r.model
}

// Dimension returns the fixed vector dimension of the collection.
func (r *QdrantRepository) Dimension() int {
	return r.vectorDimension
}

// EnsureCollection creates the collection if it doesn't exist and
// verifies the dimension of an existing one. A dimension mismatch is an
// error: writing vectors of the wrong size would silently corrupt
// similarity results.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(r.vectorDimension) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
			}
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}
	config := info.GetConfig()
	if config == nil {
		return 0, false
	}
	params := config.GetParams()
	if params == nil {
		return 0, false
	}
	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}
	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams == nil {
				continue
			}
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}
	return 0, false
}

// ChunkPayload is the payload stored with each vector point.
type ChunkPayload struct {
	ContentType    string `json:"content_type"`
	ContentID      int64  `json:"content_id"`
	ChunkIndex     int    `json:"chunk_index"`
	ChunkType      string `json:"chunk_type"`
	HierarchyLevel int    `json:"hierarchy_level"`
	SectionTitle   string `json:"section_title"`
	Snippet        string `json:"snippet"`
	Model          string `json:"model"`
}

// PointID returns the deterministic point UUID for a chunk, derived
// from the chunk key and the collection. The same chunk always maps to
// the same point, so re-processing overwrites instead of duplicating.
func (r *QdrantRepository) PointID(contentType domain.ContentType, contentID int64, chunkIndex int) string {
	key := fmt.Sprintf("%s/%s/%d/%d", r.collectionName, contentType, contentID, chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// UpsertChunk inserts or overwrites one chunk vector. The vector length
// must match the collection dimension; this is the structural guard
// against mixing models.
func (r *QdrantRepository) UpsertChunk(ctx context.Context, vector []float32, payload *ChunkPayload) (string, error) {
	if len(vector) != r.vectorDimension {
		return "", fmt.Errorf("vector dimension %d does not match collection %s (%d)", len(vector), r.collectionName, r.vectorDimension)
	}

	payload.Model = r.model
	pointID := r.PointID(domain.ContentType(payload.ContentType), payload.ContentID, payload.ChunkIndex)

	points := []*pb.PointStruct{
		{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: map[string]*pb.Value{
				"content_type":    {Kind: &pb.Value_StringValue{StringValue: payload.ContentType}},
				"content_id":      {Kind: &pb.Value_IntegerValue{IntegerValue: payload.ContentID}},
				"chunk_index":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(payload.ChunkIndex)}},
				"chunk_type":      {Kind: &pb.Value_StringValue{StringValue: payload.ChunkType}},
				"hierarchy_level": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(payload.HierarchyLevel)}},
				"section_title":   {Kind: &pb.Value_StringValue{StringValue: payload.SectionTitle}},
				"snippet":         {Kind: &pb.Value_StringValue{StringValue: payload.Snippet}},
				"model":           {Kind: &pb.Value_StringValue{StringValue: payload.Model}},
			},
		},
	}

	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points:         points,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert point: %w", err)
	}

	return pointID, nil
}

// SearchResult represents a scored point from the collection.
type SearchResult struct {
	ID      string
	Score   float32
	Payload *ChunkPayload
}

// Search performs a similarity search over the collection. An optional
// content-type restriction becomes a must-match filter; scoreThreshold
// is applied server-side when positive.
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, topK int, contentTypes []domain.ContentType, scoreThreshold float32) ([]SearchResult, error) {
	if len(vector) != r.vectorDimension {
		return nil, fmt.Errorf("query vector dimension %d does not match collection %s (%d)", len(vector), r.collectionName, r.vectorDimension)
	}

	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = &scoreThreshold
	}
	if filter := buildContentTypeFilter(contentTypes); filter != nil {
		req.Filter = filter
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, scored := range resp.Result {
		results[i] = SearchResult{
			ID:      scored.Id.GetUuid(),
			Score:   scored.Score,
			Payload: parsePayload(scored.Payload),
		}
	}
	return results, nil
}

func buildContentTypeFilter(contentTypes []domain.ContentType) *pb.Filter {
	if len(contentTypes) == 0 {
		return nil
	}
	keywords := make([]string, len(contentTypes))
	for i, ct := range contentTypes {
		keywords[i] = string(ct)
	}
	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: "content_type",
						Match: &pb.Match{
							MatchValue: &pb.Match_Keywords{
								Keywords: &pb.RepeatedStrings{Strings: keywords},
							},
						},
					},
				},
			},
		},
	}
}

func parsePayload(payload map[string]*pb.Value) *ChunkPayload {
	if payload == nil {
		return nil
	}
	p := &ChunkPayload{}
	if v, ok := payload["content_type"]; ok {
		p.ContentType = v.GetStringValue()
	}
	if v, ok := payload["content_id"]; ok {
		p.ContentID = v.GetIntegerValue()
	}
	if v, ok := payload["chunk_index"]; ok {
		p.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["chunk_type"]; ok {
		p.ChunkType = v.GetStringValue()
	}
	if v, ok := payload["hierarchy_level"]; ok {
		p.HierarchyLevel = int(v.GetIntegerValue())
	}
	if v, ok := payload["section_title"]; ok {
		p.SectionTitle = v.GetStringValue()
	}
	if v, ok := payload["snippet"]; ok {
		p.Snippet = v.GetStringValue()
	}
	if v, ok := payload["model"]; ok {
		p.Model = v.GetStringValue()
	}
	return p
}

// DeleteByContent removes every point belonging to one content item,
// used when the source content is deleted.
func (r *QdrantRepository) DeleteByContent(ctx context.Context, contentType domain.ContentType, contentID int64) error {
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						{
							ConditionOneOf: &pb.Condition_Field{
								Field: &pb.FieldCondition{
									Key: "content_type",
									Match: &pb.Match{
										MatchValue: &pb.Match_Keyword{Keyword: string(contentType)},
									},
								},
							},
						},
						{
							ConditionOneOf: &pb.Condition_Field{
								Field: &pb.FieldCondition{
									Key: "content_id",
									Match: &pb.Match{
										MatchValue: &pb.Match_Integer{Integer: contentID},
									},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}
