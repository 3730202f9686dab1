package vectorstore

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeClient is a scriptable in-memory stand-in for the Qdrant client.
type fakeClient struct {
	collections map[string]uint64 // name -> dimension

	createErr    error
	createCalls  int
	upsertSizes  []int
	queryErr     error
	deleteCalls  int
	deleteErr    error
	healthErr    error
	existsCalled int
}

func newFakeClient() *fakeClient {
	return &fakeClient{collections: make(map[string]uint64)}
}

func (f *fakeClient) CollectionExists(_ context.Context, name string) (bool, error) {
	f.existsCalled++
	var _, ok = f.collections[name]
	return ok, nil
}

func (f *fakeClient) GetCollectionInfo(_ context.Context, name string) (*qdrant.CollectionInfo, error) {
	var dim, ok = f.collections[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "no such collection")
	}
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     dim,
					Distance: qdrant.Distance_Cosine,
				}),
			},
		},
	}, nil
}

func (f *fakeClient) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	f.collections[req.CollectionName] = req.GetVectorsConfig().GetParams().GetSize()
	return nil
}

func (f *fakeClient) DeleteCollection(_ context.Context, name string) error {
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.collections, name)
	return nil
}

func (f *fakeClient) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upsertSizes = append(f.upsertSizes, len(req.Points))
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Query(_ context.Context, _ *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	return nil, f.queryErr
}

func (f *fakeClient) Count(_ context.Context, _ *qdrant.CountPoints) (uint64, error) {
	return 42, nil
}

func (f *fakeClient) ListCollections(_ context.Context) ([]string, error) {
	var names []string
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeClient) HealthCheck(_ context.Context) (*qdrant.HealthCheckReply, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &qdrant.HealthCheckReply{Version: "1.16.0"}, nil
}

func (f *fakeClient) Close() error { return nil }

func testStore(f *fakeClient) *Store {
	return newStore(f, Config{UpsertBatch: 100})
}

func TestEnsureCollectionCreatesWhenAbsent(t *testing.T) {
	var f = newFakeClient()
	var s = testStore(f)

	require.NoError(t, s.EnsureCollection(context.Background(), "docs", 768, false))
	require.Equal(t, uint64(768), f.collections["docs"])

	// Second call is a no-op.
	require.NoError(t, s.EnsureCollection(context.Background(), "docs", 768, false))
	require.Equal(t, 1, f.createCalls)
}

func TestEnsureCollectionBadDimension(t *testing.T) {
	var f = newFakeClient()
	f.collections["docs"] = 512
	var s = testStore(f)

	var err = s.EnsureCollection(context.Background(), "docs", 768, false)
	var ve = AsError(err)
	require.NotNil(t, ve)
	require.Equal(t, KindBadDimension, ve.Kind)
}

func TestEnsureCollectionForceRecreates(t *testing.T) {
	var f = newFakeClient()
	f.collections["docs"] = 512
	var s = testStore(f)

	require.NoError(t, s.EnsureCollection(context.Background(), "docs", 768, true))
	require.Equal(t, 1, f.deleteCalls)
	require.Equal(t, uint64(768), f.collections["docs"])
}

func TestEnsureCollectionRetriesCreateWithRecreate(t *testing.T) {
	var f = newFakeClient()
	f.createErr = status.Error(codes.InvalidArgument, "exists but unhealthy")
	var s = testStore(f)

	var err = s.EnsureCollection(context.Background(), "docs", 768, false)
	require.Error(t, err)
	require.Equal(t, 2, f.createCalls) // Initial attempt plus the recreate pass.
}

func TestUpsertBatches(t *testing.T) {
	var f = newFakeClient()
	var s = testStore(f)

	var points = make([]Point, 250)
	for i := range points {
		points[i] = Point{
			ID:      "00000000-0000-0000-0000-000000000000",
			Vector:  []float32{1, 2},
			Payload: map[string]any{"text": "x"},
		}
	}
	require.NoError(t, s.Upsert(context.Background(), "docs", points))
	require.Equal(t, []int{100, 100, 50}, f.upsertSizes)
}

func TestDeleteAbsentCollectionIsNoOp(t *testing.T) {
	var f = newFakeClient()
	f.deleteErr = status.Error(codes.NotFound, "no such collection")
	var s = testStore(f)

	require.NoError(t, s.Delete(context.Background(), "ghost"))
}

func TestBreakerFailsFastAfterRepeatedFailures(t *testing.T) {
	var f = newFakeClient()
	f.queryErr = status.Error(codes.InvalidArgument, "bad query")
	var s = testStore(f)

	for i := 0; i != breakerThreshold; i++ {
		var _, err = s.Search(context.Background(), "docs", []float32{1}, 5, nil)
		require.Error(t, err)
	}

	var _, err = s.Search(context.Background(), "docs", []float32{1}, 5, nil)
	var ve = AsError(err)
	require.NotNil(t, ve)
	require.Equal(t, KindUnavailable, ve.Kind)
	require.ErrorIs(t, err, errBreakerOpen)
}

func TestStatsCombinesInfoAndCount(t *testing.T) {
	var f = newFakeClient()
	f.collections["docs"] = 768
	var s = testStore(f)

	var stats, err = s.Stats(context.Background(), "docs")
	require.NoError(t, err)
	require.Equal(t, uint64(42), stats.Points)
	require.Equal(t, uint64(768), stats.Dimension)
}

func TestHealthReportsFailureWithoutError(t *testing.T) {
	var f = newFakeClient()
	var s = testStore(f)

	var h = s.Health(context.Background())
	require.True(t, h.OK)
	require.Equal(t, "1.16.0", h.Detail)

	f.healthErr = status.Error(codes.Unavailable, "down")
	h = s.Health(context.Background())
	require.False(t, h.OK)
	require.Contains(t, h.Detail, "down")
}
