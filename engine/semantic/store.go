// Package semantic is the Knowledge Store: namespaced vector storage in
// Qdrant, one collection per namespace.
package semantic

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/ekkoscope/sherlock/engine/domain"
)

const maxTitleLen = 200

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Options configures a VectorStore.
type Options struct {
	Addr       string // host:port of the gRPC endpoint
	APIKey     string
	UseTLS     bool
	Prefix     string // collection name prefix, default "sherlock"
	Dimensions int
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	prefix      string
	dims        int
}

// New connects to Qdrant.
func New(opts Options) (*VectorStore, error) {
	creds := insecure.NewCredentials()
	if opts.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}
	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", opts.Addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), opts.Prefix, opts.Dimensions)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a VectorStore over existing gRPC clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, prefix string, dims int) *VectorStore {
	if prefix == "" {
		prefix = "sherlock"
	}
	return &VectorStore{points: points, collections: collections, prefix: prefix, dims: dims}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Dimensions is the fixed vector length of every collection.
func (v *VectorStore) Dimensions() int { return v.dims }

// Collection returns the Qdrant collection backing namespace.
func (v *VectorStore) Collection(namespace string) string {
	return v.prefix + "-" + namespace
}

// EnsureNamespaces creates every missing namespace collection and verifies
// the vector size of those that already exist.
func (v *VectorStore) EnsureNamespaces(ctx context.Context) error {
	if v.dims <= 0 {
		return fmt.Errorf("semantic: invalid dimensions %d", v.dims)
	}
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	existing := make(map[string]bool, len(list.GetCollections()))
	for _, c := range list.GetCollections() {
		existing[c.GetName()] = true
	}

	for _, ns := range domain.AllNamespaces {
		name := v.Collection(ns)
		if existing[name] {
			if err := v.checkSize(ctx, name); err != nil {
				return err
			}
			continue
		}
		_, err := v.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{Size: uint64(v.dims), Distance: pb.Distance_Cosine},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("semantic: create collection %s: %w", name, err)
		}
	}
	return nil
}

func (v *VectorStore) checkSize(ctx context.Context, name string) error {
	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("semantic: get collection %s: %w", name, err)
	}
	params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return nil
	}
	if got := int(params.GetSize()); got != v.dims {
		return fmt.Errorf("semantic: collection %s has size %d, want %d: %w", name, got, v.dims, domain.ErrDimensionMismatch)
	}
	return nil
}

func (v *VectorStore) checkDims(vec []float32) error {
	if len(vec) != v.dims {
		return fmt.Errorf("semantic: vector length %d, index dimension %d: %w", len(vec), v.dims, domain.ErrDimensionMismatch)
	}
	return nil
}

// Upsert writes records into namespace. Every embedding must match the
// configured dimension; nothing is written otherwise.
func (v *VectorStore) Upsert(ctx context.Context, namespace string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if err := v.checkDims(r.Embedding); err != nil {
			return err
		}
		payload, err := encodePayload(r.Metadata)
		if err != nil {
			return err
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.Collection(namespace),
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(records), namespace, err)
	}
	return nil
}

// Query returns the topK nearest vectors in namespace whose payload matches
// every key/value in filter.
func (v *VectorStore) Query(ctx context.Context, namespace string, vector []float32, filter map[string]string, topK int) ([]Match, error) {
	if err := v.checkDims(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}
	req := &pb.SearchPoints{
		CollectionName: v.Collection(namespace),
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filter) > 0 {
		must := make([]*pb.Condition, 0, len(filter))
		for k, val := range filter {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", namespace, err)
	}
	out := make([]Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		out[i] = Match{
			ID:       r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Metadata: decodePayload(r.GetPayload()),
		}
	}
	return out, nil
}

// Delete removes ids from namespace. Missing ids are not an error.
func (v *VectorStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.Collection(namespace),
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: pids}},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %d points from %s: %w", len(ids), namespace, err)
	}
	return nil
}

func str(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }

func encodePayload(m Metadata) (map[string]*pb.Value, error) {
	topics := m.Topics
	if topics == nil {
		topics = []string{}
	}
	encoded, err := json.Marshal(topics)
	if err != nil {
		return nil, fmt.Errorf("semantic: encode topics: %w", err)
	}
	title := []rune(m.Title)
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]*pb.Value{
		"type":        str(m.Type),
		"url":         str(m.URL),
		"business_id": str(m.BusinessID),
		"title":       str(string(title)),
		"topics":      str(string(encoded)),
		"word_count":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.WordCount)}},
		"timestamp":   str(ts.UTC().Format(time.RFC3339)),
	}, nil
}

func decodePayload(p map[string]*pb.Value) Metadata {
	m := Metadata{
		Type:       p["type"].GetStringValue(),
		URL:        p["url"].GetStringValue(),
		BusinessID: p["business_id"].GetStringValue(),
		Title:      p["title"].GetStringValue(),
	}
	if raw := p["topics"].GetStringValue(); raw != "" {
		_ = json.Unmarshal([]byte(raw), &m.Topics)
	}
	switch wc := p["word_count"].GetKind().(type) {
	case *pb.Value_IntegerValue:
		m.WordCount = int(wc.IntegerValue)
	case *pb.Value_DoubleValue:
		m.WordCount = int(wc.DoubleValue)
	case *pb.Value_StringValue:
		m.WordCount, _ = strconv.Atoi(wc.StringValue)
	}
	if ts, err := time.Parse(time.RFC3339, p["timestamp"].GetStringValue()); err == nil {
		m.Timestamp = ts
	}
	return m
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
