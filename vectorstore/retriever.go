package vectorstore

import (
	"context"
	"fmt"
	"math"
)

// Strategy selects how a retriever turns a query vector into documents.
type Strategy string

const (
	StrategySimilarity Strategy = "similarity"
	StrategyMMR        Strategy = "mmr"
	StrategyFiltered   Strategy = "filtered"
	StrategyAdaptive   Strategy = "adaptive"
)

const (
	defaultMMRLambda = 0.5
	mmrFetchFactor   = 4
	defaultK         = 5
)

// Searcher is the retrieval dependency; *Store satisfies it.
type Searcher interface {
	Search(ctx context.Context, name string, vector []float32, k int, filter Filter) ([]Scored, error)
}

// Retriever is a stateless binding of a collection, a strategy, a result
// count, and an optional payload filter.
type Retriever struct {
	searcher   Searcher
	collection string
	strategy   Strategy
	k          int
	kDefaulted bool
	filter     Filter
	lambda     float64
}

// Retriever builds a retriever over this store. Zero |k| takes the
// strategy default.
func (s *Store) Retriever(collection string, strategy Strategy, k int, filter Filter) *Retriever {
	return NewRetriever(s, collection, strategy, k, filter, s.mmrLambda)
}

func NewRetriever(searcher Searcher, collection string, strategy Strategy, k int, filter Filter, lambda float64) *Retriever {
	var kDefaulted = k <= 0
	if kDefaulted {
		k = defaultK
	}
	if lambda <= 0 || lambda > 1 {
		lambda = defaultMMRLambda
	}
	return &Retriever{
		searcher:   searcher,
		collection: collection,
		strategy:   strategy,
		k:          k,
		kDefaulted: kDefaulted,
		filter:     filter,
		lambda:     lambda,
	}
}

// forQueryType resolves the adaptive strategy for one query. A k the
// caller supplied explicitly is kept; per-type result counts apply only
// when k was defaulted.
func (r *Retriever) forQueryType(queryType string) *Retriever {
	var resolved = *r
	switch queryType {
	case "research":
		resolved.strategy = StrategyMMR
	case "specific":
		if r.kDefaulted {
			resolved.k = 3
		}
		if len(r.filter) != 0 {
			resolved.strategy = StrategyFiltered
		} else {
			resolved.strategy = StrategySimilarity
		}
	case "complex":
		resolved.strategy = StrategyMMR
	default: // "general" and anything unrecognized.
		resolved.strategy = StrategySimilarity
	}
	return &resolved
}

// Retrieve returns up to k scored documents for the query vector.
// |queryType| matters only to the adaptive strategy.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, queryType string) ([]Scored, error) {
	switch r.strategy {
	case StrategyAdaptive:
		return r.forQueryType(queryType).Retrieve(ctx, vector, queryType)

	case StrategySimilarity:
		return r.searcher.Search(ctx, r.collection, vector, r.k, nil)

	case StrategyFiltered:
		return r.searcher.Search(ctx, r.collection, vector, r.k, r.filter)

	case StrategyMMR:
		var filter Filter
		if queryType == "complex" {
			filter = r.filter
		}
		var candidates, err = r.searcher.Search(ctx, r.collection, vector, r.k*mmrFetchFactor, filter)
		if err != nil {
			return nil, err
		}
		return mmrSelect(vector, candidates, r.k, r.lambda), nil

	default:
		return nil, fmt.Errorf("unknown retrieval strategy %q", r.strategy)
	}
}

// mmrSelect applies maximal marginal relevance: greedily pick the
// candidate maximizing lambda-weighted query relevance minus similarity
// to anything already picked.
func mmrSelect(query []float32, candidates []Scored, k int, lambda float64) []Scored {
	if len(candidates) <= k {
		return candidates
	}

	var selected = make([]Scored, 0, k)
	var remaining = append([]Scored(nil), candidates...)

	for len(selected) != k && len(remaining) != 0 {
		var bestIdx = 0
		var bestScore = math.Inf(-1)

		for i, cand := range remaining {
			var diversity = 0.0
			for _, s := range selected {
				diversity = math.Max(diversity, cosineSimilarity(cand.Vector, s.Vector))
			}
			var score = lambda*cosineSimilarity(query, cand.Vector) - (1-lambda)*diversity
			if score > bestScore {
				bestScore, bestIdx = score, i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
