// Package vectorstore wraps a Qdrant deployment behind a small API:
// idempotent collection management, batched upserts, filtered similarity
// search, and retrieval strategies for question answering. Every remote
// call runs under retries and a per-endpoint circuit breaker.
package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultUpsertBatch = 100

// Config locates the Qdrant deployment and tunes store behavior.
type Config struct {
	Host        string
	Port        int
	APIKey      string
	UseTLS      bool
	UpsertBatch int
	MMRLambda   float64
}

// api is the slice of the Qdrant client the store uses.
type api interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	ListCollections(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Store is a resilient Qdrant handle, safe for concurrent use.
type Store struct {
	client      api
	upsertBatch int
	mmrLambda   float64

	mu       sync.Mutex
	breakers map[string]*breaker
}

// Open connects to Qdrant. The connection is lazy; use Health to probe.
func Open(cfg Config) (*Store, error) {
	var client, err = qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return newStore(client, cfg), nil
}

func newStore(client api, cfg Config) *Store {
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = DefaultUpsertBatch
	}
	if cfg.MMRLambda <= 0 || cfg.MMRLambda > 1 {
		cfg.MMRLambda = defaultMMRLambda
	}
	return &Store{
		client:      client,
		upsertBatch: cfg.UpsertBatch,
		mmrLambda:   cfg.MMRLambda,
		breakers:    make(map[string]*breaker),
	}
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) breakerFor(op string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b, ok = s.breakers[op]
	if !ok {
		b = newBreaker()
		s.breakers[op] = b
	}
	return b
}

// transient reports whether a gRPC failure merits a retry.
func transient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}

const callAttempts = 3

// call runs |fn| under the endpoint's breaker with retries on transient
// failures.
func (s *Store) call(ctx context.Context, op, collection string, fn func() error) error {
	var b = s.breakerFor(op)
	if !b.allow() {
		return &Error{Kind: KindUnavailable, Op: op, Collection: collection, Err: errBreakerOpen}
	}

	var lastErr error
	for attempt := 0; attempt != callAttempts; attempt++ {
		if attempt > 0 {
			var timer = time.NewTimer(time.Second << (attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				b.failure()
				return ctx.Err()
			}
		}

		if lastErr = fn(); lastErr == nil {
			b.success()
			return nil
		}
		if ctx.Err() != nil {
			b.failure()
			return ctx.Err()
		}
		if !transient(lastErr) {
			break
		}
		log.WithFields(log.Fields{
			"op":         op,
			"collection": collection,
			"attempt":    attempt + 1,
			"err":        lastErr,
		}).Warn("vector store call failed; will retry")
	}
	b.failure()

	var kind = KindOther
	switch status.Code(lastErr) {
	case codes.NotFound:
		kind = KindNotFound
	case codes.AlreadyExists:
		kind = KindConflict
	default:
		if transient(lastErr) {
			kind = KindUnavailable
		}
	}
	return &Error{Kind: kind, Op: op, Collection: collection, Err: lastErr}
}

// EnsureCollection makes |name| exist with the given vector dimension.
// An existing collection with a different dimension is an error unless
// |forceRecreate| is set. A failed create is retried once with recreate
// before the error surfaces.
func (s *Store) EnsureCollection(ctx context.Context, name string, dim int, forceRecreate bool) error {
	var exists bool
	if err := s.call(ctx, "collection_exists", name, func() (err error) {
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	}); err != nil {
		return err
	}

	if exists && !forceRecreate {
		var info *qdrant.CollectionInfo
		if err := s.call(ctx, "collection_info", name, func() (err error) {
			info, err = s.client.GetCollectionInfo(ctx, name)
			return err
		}); err != nil {
			return err
		}

		var have = int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		if have != dim {
			return &Error{
				Kind:       KindBadDimension,
				Op:         "ensure_collection",
				Collection: name,
				Err:        fmt.Errorf("collection has dimension %d, need %d", have, dim),
			}
		}
		return nil
	}

	if exists {
		if err := s.Delete(ctx, name); err != nil {
			return err
		}
	}

	var err = s.create(ctx, name, dim)
	if err != nil && !forceRecreate {
		// The collection may exist in an unhealthy state; recreate once.
		log.WithFields(log.Fields{"collection": name, "err": err}).
			Warn("collection create failed; retrying with recreate")
		return s.EnsureCollection(ctx, name, dim, true)
	}
	return err
}

func (s *Store) create(ctx context.Context, name string, dim int) error {
	return s.call(ctx, "create_collection", name, func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// Point is one vector plus its payload, ready for indexing.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Upsert writes points in batches.
func (s *Store) Upsert(ctx context.Context, name string, points []Point) error {
	for start := 0; start < len(points); start += s.upsertBatch {
		var end = min(start+s.upsertBatch, len(points))

		var batch = make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: qdrant.NewValueMap(p.Payload),
			})
		}

		if err := s.call(ctx, "upsert", name, func() error {
			var _, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Points:         batch,
				Wait:           qdrant.PtrOf(true),
			})
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// Filter is a payload equality predicate; all pairs must match.
type Filter map[string]string

func (f Filter) conditions() *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}
	var must = make([]*qdrant.Condition, 0, len(f))
	for k, v := range f {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

// Scored is one search hit.
type Scored struct {
	Payload map[string]any
	Vector  []float32
	Score   float32
}

// Search returns the |k| nearest points to |vector|, best first.
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int, filter Filter) ([]Scored, error) {
	var hits []*qdrant.ScoredPoint
	if err := s.call(ctx, "query", name, func() (err error) {
		hits, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			Filter:         filter.conditions(),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		return err
	}); err != nil {
		return nil, err
	}

	var out = make([]Scored, 0, len(hits))
	for _, h := range hits {
		out = append(out, Scored{
			Payload: payloadToMap(h.GetPayload()),
			Vector:  h.GetVectors().GetVector().GetData(),
			Score:   h.GetScore(),
		})
	}
	return out, nil
}

// Delete drops a collection. Deleting an absent collection is a no-op.
func (s *Store) Delete(ctx context.Context, name string) error {
	var err = s.call(ctx, "delete_collection", name, func() error {
		return s.client.DeleteCollection(ctx, name)
	})
	if ve := AsError(err); ve != nil && ve.Kind == KindNotFound {
		return nil
	}
	return err
}

// CollectionStats describes one collection.
type CollectionStats struct {
	Points    uint64 `json:"points"`
	Dimension uint64 `json:"dimension"`
}

func (s *Store) Stats(ctx context.Context, name string) (CollectionStats, error) {
	var stats CollectionStats

	if err := s.call(ctx, "collection_info", name, func() (err error) {
		var info, ierr = s.client.GetCollectionInfo(ctx, name)
		if ierr != nil {
			return ierr
		}
		stats.Dimension = info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		return nil
	}); err != nil {
		return CollectionStats{}, err
	}

	if err := s.call(ctx, "count", name, func() (err error) {
		stats.Points, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	}); err != nil {
		return CollectionStats{}, err
	}
	return stats, nil
}

// Collections lists collection names.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	var names []string
	var err = s.call(ctx, "list_collections", "", func() (err error) {
		names, err = s.client.ListCollections(ctx)
		return err
	})
	return names, err
}

// Health describes store reachability.
type Health struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Detail    string `json:"detail"`
}

// Health probes the deployment. A failed probe is reported, not
// returned as an error.
func (s *Store) Health(ctx context.Context) Health {
	var begun = time.Now()
	var reply, err = s.client.HealthCheck(ctx)
	var latency = time.Since(begun).Milliseconds()

	if err != nil {
		return Health{OK: false, LatencyMS: latency, Detail: err.Error()}
	}
	return Health{OK: true, LatencyMS: latency, Detail: reply.GetVersion()}
}
