// Package pipeline orchestrates ingestion: chunk the uploaded documents,
// optionally enrich each chunk with LLM metadata, embed, and index into
// the vector store, emitting progress along the way.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quarry-ai/quarry/chunker"
	"github.com/quarry-ai/quarry/enrich"
	"github.com/quarry-ai/quarry/progress"
	"github.com/quarry-ai/quarry/provider"
	"github.com/quarry-ai/quarry/vectorstore"
)

// Job is one upload to ingest.
type Job struct {
	UploadID       string
	Documents      []chunker.Document
	Collection     string
	Strategy       string
	EnableMetadata bool
	ForceRecreate  bool
}

// Result summarizes a completed ingestion.
type Result struct {
	TotalDocuments   int     `json:"total_documents"`
	TotalChunks      int     `json:"total_chunks"`
	TotalVectors     int     `json:"total_vectors"`
	CollectionName   string  `json:"collection_name"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

func (r Result) asMap() map[string]any {
	return map[string]any{
		"total_documents":    r.TotalDocuments,
		"total_chunks":       r.TotalChunks,
		"total_vectors":      r.TotalVectors,
		"collection_name":    r.CollectionName,
		"processing_time_ms": r.ProcessingTimeMS,
		"estimated_cost_usd": r.EstimatedCostUSD,
	}
}

// Indexer is the vector store dependency; *vectorstore.Store satisfies it.
type Indexer interface {
	EnsureCollection(ctx context.Context, name string, dim int, forceRecreate bool) error
	Upsert(ctx context.Context, name string, points []vectorstore.Point) error
}

// Options tune the pipeline.
type Options struct {
	Concurrency     int // Parallel enrichment calls, default 8.
	DefaultStrategy string
	ChunkOptions    chunker.Options
}

const (
	DefaultConcurrency = 8

	// indexBatch is how many chunks are embedded and upserted per
	// progress event.
	indexBatch = 100

	// enrichShare is the progress band enrichment fills when enabled;
	// indexing fills the rest.
	enrichShare = 90.0

	// costPer1KTokens approximates embedding spend; enrichment calls
	// dominate real cost but are provider-priced and not estimated.
	costPer1KTokens = 0.0001
)

// Pipeline runs ingestion jobs against shared process-wide dependencies.
type Pipeline struct {
	embeddings provider.Embeddings
	enricher   *enrich.Enricher
	store      Indexer
	tracker    *progress.Tracker
	opts       Options
}

func New(embeddings provider.Embeddings, enricher *enrich.Enricher, store Indexer, tracker *progress.Tracker, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = "recursive"
	}
	return &Pipeline{
		embeddings: embeddings,
		enricher:   enricher,
		store:      store,
		tracker:    tracker,
		opts:       opts,
	}
}

// Run ingests one job. The job's tracker entry must already exist; Run
// always leaves it in a terminal state.
func (p *Pipeline) Run(ctx context.Context, job Job) (Result, error) {
	var begun = time.Now()

	var result, err = p.run(ctx, job, begun)
	if err != nil {
		var reason = err.Error()
		if ctx.Err() != nil {
			reason = "cancelled"
		}
		log.WithFields(log.Fields{
			"uploadId": job.UploadID,
			"err":      err,
		}).Error("ingestion failed")

		if ferr := p.tracker.Finish(job.UploadID, progress.StatusFailed, nil, reason); ferr != nil {
			log.WithField("uploadId", job.UploadID).WithError(ferr).Warn("recording failure")
		}
		return Result{}, err
	}

	result.ProcessingTimeMS = time.Since(begun).Milliseconds()
	if ferr := p.tracker.Finish(job.UploadID, progress.StatusCompleted, result.asMap(), ""); ferr != nil {
		log.WithField("uploadId", job.UploadID).WithError(ferr).Warn("recording completion")
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, job Job, begun time.Time) (Result, error) {
	if len(job.Documents) == 0 {
		return Result{}, fmt.Errorf("no documents to ingest")
	}

	p.update(job.UploadID, progress.Update{
		Status:  progress.StatusExtracting,
		Message: fmt.Sprintf("reading %d documents", len(job.Documents)),
	})

	chunks, err := p.chunkStage(ctx, job)
	if err != nil {
		return Result{}, err
	}

	var enriched []enrich.Metadata
	if job.EnableMetadata && p.enricher != nil {
		enriched, err = p.enrichStage(ctx, job.UploadID, chunks)
		if err != nil {
			return Result{}, err
		}
	}

	cost, err := p.indexStage(ctx, job, chunks, enriched)
	if err != nil {
		return Result{}, err
	}

	return Result{
		TotalDocuments:   len(job.Documents),
		TotalChunks:      len(chunks),
		TotalVectors:     len(chunks),
		CollectionName:   job.Collection,
		EstimatedCostUSD: cost,
	}, nil
}

func (p *Pipeline) chunkStage(ctx context.Context, job Job) ([]chunker.Chunk, error) {
	defer observeStage("chunking")()

	var strategy = job.Strategy
	if strategy == "" {
		strategy = p.opts.DefaultStrategy
	}
	var c, err = chunker.New(strategy, p.opts.ChunkOptions, p.embeddings)
	if err != nil {
		return nil, err
	}

	var chunks []chunker.Chunk
	for _, doc := range job.Documents {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var docChunks, err = c.Chunk(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("chunking %q: %w", doc.Source, err)
		}
		chunks = append(chunks, docChunks...)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("documents produced no chunks")
	}

	p.update(job.UploadID, progress.Update{
		Status:      progress.StatusChunking,
		TotalChunks: len(chunks),
		Message:     fmt.Sprintf("split into %d chunks", len(chunks)),
	})
	return chunks, nil
}

// enrichStage fans chunk enrichment out across workers. A chunk whose
// enrichment fails keeps empty metadata; only cancellation aborts the
// stage.
func (p *Pipeline) enrichStage(ctx context.Context, uploadID string, chunks []chunker.Chunk) ([]enrich.Metadata, error) {
	defer observeStage("enriching")()

	var metadata = make([]enrich.Metadata, len(chunks))
	var done = make(chan int, len(chunks))

	var g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i := range chunks {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			var md, err = p.enricher.Enrich(gctx, chunks[i])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.WithFields(log.Fields{
					"uploadId": uploadID,
					"chunk":    chunks[i].Index,
					"err":      err,
				}).Warn("chunk enrichment failed; continuing without metadata")
			}
			metadata[i] = md
			done <- i
			return nil
		})
	}

	// Progress is emitted here so events stay ordered per upload.
	var finished = 0
	var watcher = make(chan error, 1)
	go func() { watcher <- g.Wait() }()

	for {
		select {
		case <-done:
			finished++
			p.update(uploadID, progress.Update{
				Status:       progress.StatusEnriching,
				Percent:      float64(finished) / float64(len(chunks)) * enrichShare,
				CurrentChunk: finished,
				Message:      fmt.Sprintf("enriched %d/%d chunks", finished, len(chunks)),
			})
		case err := <-watcher:
			if err != nil {
				return nil, err
			}
			// Drain completions that raced with Wait.
			for len(done) > 0 {
				<-done
				finished++
			}
			return metadata, nil
		}
	}
}

func (p *Pipeline) indexStage(ctx context.Context, job Job, chunks []chunker.Chunk, metadata []enrich.Metadata) (float64, error) {
	defer observeStage("indexing")()

	var err = p.store.EnsureCollection(ctx, job.Collection, p.embeddings.Dimension(), job.ForceRecreate)
	if err != nil {
		return 0, fmt.Errorf("preparing collection: %w", err)
	}

	var floor = 0.0
	if metadata != nil {
		floor = enrichShare
	}

	var totalTokens = 0
	for start := 0; start < len(chunks); start += indexBatch {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		var end = min(start+indexBatch, len(chunks))
		var batch = chunks[start:end]

		var texts = make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
			totalTokens += ch.Tokens
		}

		var vectors, err = p.embeddings.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embedding chunks: %w", err)
		}

		var points = make([]vectorstore.Point, len(batch))
		for i, ch := range batch {
			var md enrich.Metadata
			if metadata != nil {
				md = metadata[start+i]
			}
			points[i] = vectorstore.Point{
				ID:      uuid.NewString(),
				Vector:  vectors[i],
				Payload: pointPayload(ch, md),
			}
		}
		if err := p.store.Upsert(ctx, job.Collection, points); err != nil {
			return 0, fmt.Errorf("indexing chunks: %w", err)
		}

		p.update(job.UploadID, progress.Update{
			Status:       progress.StatusIndexing,
			Percent:      floor + float64(end)/float64(len(chunks))*(100-floor),
			CurrentChunk: end,
			Message:      fmt.Sprintf("indexed %d/%d chunks", end, len(chunks)),
		})
	}

	return float64(totalTokens) / 1000 * costPer1KTokens, nil
}

// pointPayload flattens a chunk and its enrichment for indexing.
func pointPayload(ch chunker.Chunk, md enrich.Metadata) map[string]any {
	var payload = map[string]any{
		"text":        ch.Text,
		"source":      ch.Source,
		"chunk_index": ch.Index,
	}
	for k, v := range ch.Metadata {
		payload[k] = v
	}

	if md.Summary != "" {
		payload["summary"] = md.Summary
	}
	if len(md.Keywords) != 0 {
		payload["keywords"] = md.Keywords
	}
	if md.Topic != "" {
		payload["topic"] = md.Topic
	}
	if md.Complexity != "" {
		payload["complexity"] = md.Complexity
	}
	if len(md.Entities) != 0 {
		payload["entities"] = md.Entities
	}
	if md.Sentiment != "" {
		payload["sentiment"] = md.Sentiment
	}
	return payload
}

func (p *Pipeline) update(uploadID string, u progress.Update) {
	if err := p.tracker.Update(uploadID, u); err != nil {
		log.WithField("uploadId", uploadID).WithError(err).Warn("progress update dropped")
	}
}
