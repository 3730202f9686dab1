package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarry-ai/quarry/chunker"
	"github.com/quarry-ai/quarry/enrich"
	"github.com/quarry-ai/quarry/progress"
	"github.com/quarry-ai/quarry/provider"
	"github.com/quarry-ai/quarry/vectorstore"
)

type fakeEmbeddings struct {
	err error
}

func (f *fakeEmbeddings) Dimension() int { return 4 }

func (f *fakeEmbeddings) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, f.err
}

func (f *fakeEmbeddings) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out = make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

type fakeChat struct {
	reply string
	err   error
}

func (c *fakeChat) Model() string { return "fake" }

func (c *fakeChat) Complete(_ context.Context, _ provider.CompletionRequest) (string, error) {
	return c.reply, c.err
}

type fakeIndexer struct {
	ensured       []string
	ensureDim     int
	ensureForce   bool
	ensureErr     error
	upsertErr     error
	points        []vectorstore.Point
	upsertBatches int
}

func (f *fakeIndexer) EnsureCollection(_ context.Context, name string, dim int, force bool) error {
	f.ensured = append(f.ensured, name)
	f.ensureDim = dim
	f.ensureForce = force
	return f.ensureErr
}

func (f *fakeIndexer) Upsert(_ context.Context, _ string, points []vectorstore.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.points = append(f.points, points...)
	f.upsertBatches++
	return nil
}

func docs() []chunker.Document {
	return []chunker.Document{
		{Source: "a.txt", Text: "Alpha document body."},
		{Source: "b.txt", Text: "Bravo document body."},
	}
}

func newTestPipeline(emb *fakeEmbeddings, chat *fakeChat, idx *fakeIndexer, tr *progress.Tracker) *Pipeline {
	var enricher *enrich.Enricher
	if chat != nil {
		enricher = enrich.New(chat)
	}
	return New(emb, enricher, idx, tr, Options{Concurrency: 2})
}

func TestRunHappyPathWithMetadata(t *testing.T) {
	var tr = progress.NewTracker(0)
	require.NoError(t, tr.Create("u1"))
	var sub, err = tr.Subscribe("u1")
	require.NoError(t, err)

	var idx = &fakeIndexer{}
	var chat = &fakeChat{reply: `{"summary": "S", "topic": "T", "complexity": "simple"}`}
	var p = newTestPipeline(&fakeEmbeddings{}, chat, idx, tr)

	result, err := p.Run(context.Background(), Job{
		UploadID:       "u1",
		Documents:      docs(),
		Collection:     "docs",
		EnableMetadata: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalDocuments)
	require.Equal(t, 2, result.TotalChunks)
	require.Equal(t, 2, result.TotalVectors)
	require.Equal(t, "docs", result.CollectionName)
	require.Greater(t, result.EstimatedCostUSD, 0.0)

	require.Equal(t, []string{"docs"}, idx.ensured)
	require.Equal(t, 4, idx.ensureDim)
	require.Len(t, idx.points, 2)

	var payload = idx.points[0].Payload
	require.Contains(t, payload["text"], "document body")
	require.Equal(t, "S", payload["summary"])
	require.Equal(t, "simple", payload["complexity"])

	// The event stream walks the stage DAG in order and ends terminal.
	var statuses []progress.Status
	var lastPercent = -1.0
	for ev := range sub.C {
		statuses = append(statuses, ev.Status)
		require.GreaterOrEqual(t, ev.ProgressPercent, lastPercent)
		lastPercent = ev.ProgressPercent
	}
	require.Equal(t, progress.StatusReceived, statuses[0])
	require.Contains(t, statuses, progress.StatusExtracting)
	require.Contains(t, statuses, progress.StatusChunking)
	require.Contains(t, statuses, progress.StatusEnriching)
	require.Contains(t, statuses, progress.StatusIndexing)
	require.Equal(t, progress.StatusCompleted, statuses[len(statuses)-1])
	require.Equal(t, 100.0, lastPercent)
}

func TestRunSkipsEnrichmentWhenDisabled(t *testing.T) {
	var tr = progress.NewTracker(0)
	require.NoError(t, tr.Create("u1"))

	var idx = &fakeIndexer{}
	var p = newTestPipeline(&fakeEmbeddings{}, &fakeChat{err: errors.New("never called")}, idx, tr)

	var _, err = p.Run(context.Background(), Job{
		UploadID:   "u1",
		Documents:  docs(),
		Collection: "docs",
	})
	require.NoError(t, err)
	require.NotContains(t, idx.points[0].Payload, "summary")

	var ev, gerr = tr.Get("u1")
	require.NoError(t, gerr)
	require.Equal(t, progress.StatusCompleted, ev.Status)
}

func TestRunContinuesPastEnrichmentFailures(t *testing.T) {
	var tr = progress.NewTracker(0)
	require.NoError(t, tr.Create("u1"))

	var idx = &fakeIndexer{}
	var chat = &fakeChat{err: errors.New("enrichment provider down")}
	var p = newTestPipeline(&fakeEmbeddings{}, chat, idx, tr)

	result, err := p.Run(context.Background(), Job{
		UploadID:       "u1",
		Documents:      docs(),
		Collection:     "docs",
		EnableMetadata: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalChunks)
	require.NotContains(t, idx.points[0].Payload, "summary")
}

func TestRunFailsOnEmbeddingError(t *testing.T) {
	var tr = progress.NewTracker(0)
	require.NoError(t, tr.Create("u1"))

	var p = newTestPipeline(&fakeEmbeddings{err: errors.New("quota exhausted")}, nil, &fakeIndexer{}, tr)

	var _, err = p.Run(context.Background(), Job{
		UploadID:   "u1",
		Documents:  docs(),
		Collection: "docs",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "embedding")

	var ev, gerr = tr.Get("u1")
	require.NoError(t, gerr)
	require.Equal(t, progress.StatusFailed, ev.Status)
	require.Contains(t, ev.Error, "quota exhausted")
}

func TestRunFailsOnEnsureCollectionError(t *testing.T) {
	var tr = progress.NewTracker(0)
	require.NoError(t, tr.Create("u1"))

	var idx = &fakeIndexer{ensureErr: errors.New("cluster unreachable")}
	var p = newTestPipeline(&fakeEmbeddings{}, nil, idx, tr)

	var _, err = p.Run(context.Background(), Job{
		UploadID:   "u1",
		Documents:  docs(),
		Collection: "docs",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "preparing collection")
}

func TestRunCancelledMarksFailure(t *testing.T) {
	var tr = progress.NewTracker(0)
	require.NoError(t, tr.Create("u1"))

	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	var p = newTestPipeline(&fakeEmbeddings{}, nil, &fakeIndexer{}, tr)
	var _, err = p.Run(ctx, Job{
		UploadID:   "u1",
		Documents:  docs(),
		Collection: "docs",
	})
	require.Error(t, err)

	var ev, gerr = tr.Get("u1")
	require.NoError(t, gerr)
	require.Equal(t, progress.StatusFailed, ev.Status)
	require.Equal(t, "cancelled", ev.Error)
}

func TestRunRejectsEmptyUpload(t *testing.T) {
	var tr = progress.NewTracker(0)
	require.NoError(t, tr.Create("u1"))

	var p = newTestPipeline(&fakeEmbeddings{}, nil, &fakeIndexer{}, tr)
	var _, err = p.Run(context.Background(), Job{UploadID: "u1", Collection: "docs"})
	require.Error(t, err)
}

func TestRunForwardsForceRecreate(t *testing.T) {
	var tr = progress.NewTracker(0)
	require.NoError(t, tr.Create("u1"))

	var idx = &fakeIndexer{}
	var p = newTestPipeline(&fakeEmbeddings{}, nil, idx, tr)

	var _, err = p.Run(context.Background(), Job{
		UploadID:      "u1",
		Documents:     docs(),
		Collection:    "docs",
		ForceRecreate: true,
	})
	require.NoError(t, err)
	require.True(t, idx.ensureForce)
}
