// Package qa answers questions over indexed documents: embed the
// question, retrieve relevant chunks, and generate an answer with a
// query-type-specific prompt. A cold service binds itself to the default
// collection on the first question.
package qa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quarry-ai/quarry/pipeline"
	"github.com/quarry-ai/quarry/provider"
	"github.com/quarry-ai/quarry/vectorstore"
)

// ErrServiceUnavailable means no collection is bound and auto-init
// failed; callers should POST /initialize (or upload documents) first.
var ErrServiceUnavailable = errors.New("qa service not initialized; call POST /initialize or upload documents first")

const (
	snippetLimit = 200
	batchFanOut  = 4
)

// Store is the retrieval surface the service needs.
type Store interface {
	vectorstore.Searcher
	Stats(ctx context.Context, name string) (vectorstore.CollectionStats, error)
}

// Request is one question.
type Request struct {
	Question   string             `json:"question"`
	QueryType  string             `json:"query_type"`
	K          int                `json:"k"`
	Collection string             `json:"collection_name"`
	Strategy   string             `json:"strategy"`
	Filter     map[string]string  `json:"filter"`
}

// Source locates one supporting chunk in a response.
type Source struct {
	Source    string         `json:"source"`
	Relevance float32        `json:"relevance_score"`
	Snippet   string         `json:"snippet"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Response is a generated answer plus provenance and timings.
type Response struct {
	Answer        string   `json:"answer"`
	QueryType     string   `json:"query_type"`
	Sources       []Source `json:"sources"`
	DocumentsUsed int      `json:"documents_used"`
	RetrievalMS   int64    `json:"retrieval_time_ms"`
	GenerationMS  int64    `json:"generation_time_ms"`
	TotalMS       int64    `json:"total_time_ms"`
	Model         string   `json:"model"`
	Cached        bool     `json:"cached,omitempty"`
}

// Options configure a Service.
type Options struct {
	DefaultCollection string
	MMRLambda         float64
}

// Service is safe for concurrent use.
type Service struct {
	store      Store
	embeddings provider.Embeddings
	chat       provider.Chat
	pipe       *pipeline.Pipeline
	cache      *Cache
	opts       Options

	mu         sync.Mutex
	collection string
}

func New(store Store, embeddings provider.Embeddings, chat provider.Chat, pipe *pipeline.Pipeline, cache *Cache, opts Options) *Service {
	return &Service{
		store:      store,
		embeddings: embeddings,
		chat:       chat,
		pipe:       pipe,
		cache:      cache,
		opts:       opts,
	}
}

// InitFromCollection binds the service to an existing collection.
func (s *Service) InitFromCollection(ctx context.Context, name string) error {
	var stats, err = s.store.Stats(ctx, name)
	if err != nil {
		return fmt.Errorf("binding to collection %q: %w", name, err)
	}

	s.mu.Lock()
	s.collection = name
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"collection": name,
		"points":     stats.Points,
	}).Info("qa service bound to collection")
	return nil
}

// InitFromDocuments ingests documents synchronously, then binds to the
// resulting collection.
func (s *Service) InitFromDocuments(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	var result, err = s.pipe.Run(ctx, job)
	if err != nil {
		return pipeline.Result{}, err
	}
	if err := s.InitFromCollection(ctx, job.Collection); err != nil {
		return pipeline.Result{}, err
	}
	return result, nil
}

// Initialized reports whether a collection is bound.
func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection != ""
}

// resolveCollection picks the collection for one call, auto-initializing
// from the default collection on a cold service.
func (s *Service) resolveCollection(ctx context.Context, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	s.mu.Lock()
	var bound = s.collection
	s.mu.Unlock()
	if bound != "" {
		return bound, nil
	}

	if s.opts.DefaultCollection == "" {
		return "", ErrServiceUnavailable
	}
	if err := s.InitFromCollection(ctx, s.opts.DefaultCollection); err != nil {
		log.WithError(err).Warn("qa auto-initialization failed")
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return s.opts.DefaultCollection, nil
}

// Answer retrieves context for the question and generates an answer.
func (s *Service) Answer(ctx context.Context, req Request) (Response, error) {
	var begun = time.Now()

	var collection, err = s.resolveCollection(ctx, req.Collection)
	if err != nil {
		return Response{}, err
	}
	var queryType = normalizeQueryType(req.QueryType)

	var key = cacheKey(collection, queryType, req.K, req.Question)
	if cached, ok := s.cache.Get(ctx, key); ok {
		cached.Cached = true
		return cached, nil
	}

	var retrievalBegun = time.Now()
	hits, err := s.retrieve(ctx, collection, req, queryType)
	if err != nil {
		return Response{}, err
	}
	var retrievalMS = time.Since(retrievalBegun).Milliseconds()

	var generationBegun = time.Now()
	answer, err := s.chat.Complete(ctx, provider.CompletionRequest{
		System:      systemPrompt,
		User:        renderPrompt(queryType, buildContext(hits), req.Question),
		Temperature: 0.2,
	})
	if err != nil {
		return Response{}, fmt.Errorf("generating answer: %w", err)
	}

	var resp = Response{
		Answer:        answer,
		QueryType:     queryType,
		Sources:       sources(hits),
		DocumentsUsed: len(hits),
		RetrievalMS:   retrievalMS,
		GenerationMS:  time.Since(generationBegun).Milliseconds(),
		TotalMS:       time.Since(begun).Milliseconds(),
		Model:         s.chat.Model(),
	}
	s.cache.Put(ctx, key, resp)
	return resp, nil
}

// BatchAnswer answers several questions with bounded fan-out, keeping
// result order. A failed question carries its error; the rest proceed.
func (s *Service) BatchAnswer(ctx context.Context, reqs []Request) []BatchResult {
	var results = make([]BatchResult, len(reqs))

	var g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(batchFanOut)
	for i := range reqs {
		g.Go(func() error {
			var resp, err = s.Answer(gctx, reqs[i])
			if err != nil {
				results[i] = BatchResult{Error: err.Error()}
			} else {
				results[i] = BatchResult{Response: &resp}
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// BatchResult is one entry of a batch answer.
type BatchResult struct {
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// SearchDocuments retrieves without generating.
func (s *Service) SearchDocuments(ctx context.Context, req Request) ([]Source, error) {
	var collection, err = s.resolveCollection(ctx, req.Collection)
	if err != nil {
		return nil, err
	}

	hits, err := s.retrieve(ctx, collection, req, normalizeQueryType(req.QueryType))
	if err != nil {
		return nil, err
	}
	return sources(hits), nil
}

// retrieved is one hit unpacked for prompt building.
type retrieved struct {
	source  string
	text    string
	score   float32
	payload map[string]any
}

func (s *Service) retrieve(ctx context.Context, collection string, req Request, queryType string) ([]retrieved, error) {
	var vector, err = s.embeddings.EmbedQuery(ctx, req.Question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	var strategy = vectorstore.StrategyAdaptive
	if req.Strategy != "" {
		strategy = vectorstore.Strategy(req.Strategy)
	}
	var retriever = vectorstore.NewRetriever(
		s.store, collection, strategy, req.K, vectorstore.Filter(req.Filter), s.opts.MMRLambda)

	hits, err := retriever.Retrieve(ctx, vector, queryType)
	if err != nil {
		return nil, fmt.Errorf("retrieving documents: %w", err)
	}

	var out = make([]retrieved, 0, len(hits))
	for _, h := range hits {
		var r = retrieved{score: h.Score, payload: h.Payload}
		r.source, _ = h.Payload["source"].(string)
		r.text, _ = h.Payload["text"].(string)
		out = append(out, r)
	}
	return out, nil
}

func sources(hits []retrieved) []Source {
	var out = make([]Source, 0, len(hits))
	for _, h := range hits {
		var md = make(map[string]any, len(h.payload))
		for k, v := range h.payload {
			if k == "text" {
				continue
			}
			md[k] = v
		}
		out = append(out, Source{
			Source:    h.source,
			Relevance: h.score,
			Snippet:   snippet(h.text),
			Metadata:  md,
		})
	}
	return out
}

func snippet(text string) string {
	if len(text) <= snippetLimit {
		return text
	}
	return text[:snippetLimit] + "..."
}
