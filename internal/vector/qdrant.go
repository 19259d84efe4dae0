package vector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	werrors "github.com/karmaniverous/jeeves-watcher/internal/errors"
)

// Config locates the Qdrant collection backing the watcher.
type Config struct {
	URL        string
	Collection string
	APIKey     string
	Dimensions uint64
}

// Qdrant is the Store implementation backed by a Qdrant server over
// gRPC. Mutations wait for durability and retry with backoff.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	retry      werrors.RetryConfig
	log        *slog.Logger
}

var _ Store = (*Qdrant)(nil)

// NewQdrant connects to the server named by cfg.URL.
func NewQdrant(cfg Config, log *slog.Logger) (*Qdrant, error) {
	if log == nil {
		log = slog.Default()
	}
	host, port, useTLS, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, werrors.New(werrors.ErrCodeConfigInvalid,
			fmt.Sprintf("vector store url %q: %v", cfg.URL, err), err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, werrors.VectorStoreError("connect to vector store", err)
	}

	return &Qdrant{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dimensions,
		retry:      werrors.DefaultRetryConfig(),
		log:        log,
	}, nil
}

// parseEndpoint splits a vector store URL into gRPC dial parameters.
// Bare host[:port] forms are accepted; the port defaults to 6334.
func parseEndpoint(raw string) (host string, port int, useTLS bool, err error) {
	if raw == "" {
		return "", 0, false, fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}

	host = u.Hostname()
	if host == "" {
		return "", 0, false, fmt.Errorf("missing host")
	}

	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port %q", p)
		}
	}

	useTLS = u.Scheme == "https" || u.Scheme == "grpcs"
	return host, port, useTLS, nil
}

func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return werrors.VectorStoreError("check collection", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dims,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return werrors.VectorStoreError("create collection", err)
	}
	q.log.Info("created vector collection",
		"collection", q.collection, "dimensions", q.dims)
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}

	return werrors.Retry(ctx, q.retry, func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         structs,
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return werrors.VectorStoreError("upsert points", err)
		}
		return nil
	})
}

func (q *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return werrors.Retry(ctx, q.retry, func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Points:         qdrant.NewPointsSelector(pointIDs(ids)...),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return werrors.VectorStoreError("delete points", err)
		}
		return nil
	})
}

func (q *Qdrant) SetPayload(ctx context.Context, ids []string, payload map[string]any) error {
	if len(ids) == 0 || len(payload) == 0 {
		return nil
	}

	return werrors.Retry(ctx, q.retry, func() error {
		_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: q.collection,
			Payload:        qdrant.NewValueMap(payload),
			PointsSelector: qdrant.NewPointsSelector(pointIDs(ids)...),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return werrors.VectorStoreError("set payload", err)
		}
		return nil
	})
}

func (q *Qdrant) GetPayload(ctx context.Context, id string) (map[string]any, bool) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		// Absent on transport error: the caller treats this as a
		// "changed" verdict and reprocesses, which is safe.
		q.log.Debug("get payload failed", "id", id, "error", err)
		return nil, false
	}
	if len(points) == 0 {
		return nil, false
	}
	return fromValueMap(points[0].GetPayload()), true
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]SearchResult, error) {
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, werrors.VectorStoreError("search", err)
	}

	results := make([]SearchResult, len(scored))
	for i, p := range scored {
		results[i] = SearchResult{
			ID:      p.GetId().GetUuid(),
			Score:   p.GetScore(),
			Payload: fromValueMap(p.GetPayload()),
		}
	}
	return results, nil
}

func (q *Qdrant) Scroll(ctx context.Context, filter *Filter, pageSize int, fn func(ScrollItem) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}

	req := &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Limit:          qdrant.PtrOf(uint32(pageSize)),
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	// The high-level client hides pagination offsets, so page through
	// the raw points service.
	points := q.client.GetPointsClient()
	for {
		resp, err := points.Scroll(ctx, req)
		if err != nil {
			return werrors.VectorStoreError("scroll", err)
		}
		for _, p := range resp.GetResult() {
			item := ScrollItem{
				ID:      p.GetId().GetUuid(),
				Payload: fromValueMap(p.GetPayload()),
			}
			if err := fn(item); err != nil {
				return err
			}
		}
		next := resp.GetNextPageOffset()
		if next == nil {
			return nil
		}
		req.Offset = next
	}
}

func (q *Qdrant) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return nil, werrors.VectorStoreError("collection info", err)
	}

	out := &CollectionInfo{
		Points:     info.GetPointsCount(),
		Dimensions: q.dims,
	}
	if size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(); size > 0 {
		out.Dimensions = size
	}

	if schema := info.GetPayloadSchema(); len(schema) > 0 {
		out.Schema = make(map[string]string, len(schema))
		for field, s := range schema {
			out.Schema[field] = strings.ToLower(s.GetDataType().String())
		}
		return out, nil
	}

	// No indexed schema: sample up to 100 points and infer types.
	var samples []map[string]any
	err = q.Scroll(ctx, nil, schemaSampleSize, func(item ScrollItem) error {
		samples = append(samples, item.Payload)
		if len(samples) >= schemaSampleSize {
			return errSampleDone
		}
		return nil
	})
	if err != nil && err != errSampleDone {
		return nil, err
	}
	out.Schema = inferSchema(samples)
	return out, nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func pointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewID(id)
	}
	return out
}

func buildFilter(f *Filter) *qdrant.Filter {
	if f == nil || len(f.Must) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(f.Must))
	for field, value := range f.Must {
		conditions = append(conditions, qdrant.NewMatch(field, value))
	}
	return &qdrant.Filter{Must: conditions}
}
