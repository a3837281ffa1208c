package selector

import (
	"context"
	"sort"

	"golang.org/x/sync/semaphore"

	"github.com/tindry/heritagefetch/internal/domain"
)

// Searcher is the narrow slice of provider.Adapter the selector needs,
// kept local to avoid an import of the provider package (which itself
// imports selector's sibling packages transitively through the registry).
type Searcher interface {
	Key() string
	Search(ctx context.Context, title, creator string, maxResults int) ([]domain.Candidate, error)
}

// Settings mirrors config.SelectionConfig plus the hierarchy/concurrency
// inputs the two strategies need.
type Settings struct {
	MinTitleScore            float64
	CreatorWeight            float64
	MaxCandidatesPerProvider int
	MaxResultsPerProvider    int
	MaxParallelSearches      int
	ProviderHierarchy        []string // index = priority, lower wins ties
}

func (s Settings) priorityOf(providerKey string) int {
	for i, key := range s.ProviderHierarchy {
		if key == providerKey {
			return i
		}
	}
	return len(s.ProviderHierarchy) // unranked providers sort last
}

// Score computes title_score/creator_score/quality_bonus/total for one
// candidate against a query (spec.md §4.5).
func Score(query domain.InputRecord, c domain.Candidate, creatorWeight float64) domain.ScoredCandidate {
	titleScore := TokenSetRatio(query.Title, c.Title)

	creatorScore := 100.0
	if query.Creator != "" {
		best := 0.0
		for _, creator := range c.Creators {
			if r := TokenSetRatio(query.Creator, creator); r > best {
				best = r
			}
		}
		creatorScore = best
	}

	qualityBonus := 0.0
	if c.IIIFManifestURL != "" {
		qualityBonus += 3
	}
	if c.ItemURL != "" {
		qualityBonus += 0.5
	}

	total := titleScore*(1-creatorWeight) + creatorScore*creatorWeight + qualityBonus

	return domain.ScoredCandidate{
		Candidate:    c,
		TitleScore:   titleScore,
		CreatorScore: creatorScore,
		QualityBonus: qualityBonus,
		Total:        total,
	}
}

// rank sorts scored candidates descending by Total, breaking ties by
// provider_hierarchy position then source_id (spec.md §4.5 Ranking).
func rank(candidates []domain.ScoredCandidate, priorityOf func(string) int) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		pa, pb := priorityOf(a.ProviderKey), priorityOf(b.ProviderKey)
		if pa != pb {
			return pa < pb
		}
		return a.SourceID < b.SourceID
	})
}

// CollectAndSelect runs spec.md §4.5's collect_and_select strategy: search
// every enabled provider concurrently (bounded by MaxParallelSearches),
// score and truncate per provider, rank, and split into primary/fallbacks.
func CollectAndSelect(ctx context.Context, query domain.InputRecord, providers []Searcher, settings Settings) (domain.Selection, error) {
	maxParallel := settings.MaxParallelSearches
	if maxParallel <= 0 {
		maxParallel = 1
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	type result struct {
		providerKey string
		candidates  []domain.Candidate
		err         error
	}
	results := make(chan result, len(providers))

	for _, p := range providers {
		p := p
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- result{providerKey: p.Key(), err: err}
			continue
		}
		go func() {
			defer sem.Release(1)
			maxResults := settings.MaxResultsPerProvider
			if maxResults <= 0 {
				maxResults = settings.MaxCandidatesPerProvider
			}
			cands, err := p.Search(ctx, query.Title, query.Creator, maxResults)
			results <- result{providerKey: p.Key(), candidates: cands, err: err}
		}()
	}

	var all []domain.Candidate
	var rejected []domain.RejectedCandidate
	for range providers {
		r := <-results
		if r.err != nil {
			continue
		}
		perProvider := r.candidates
		if settings.MaxCandidatesPerProvider > 0 && len(perProvider) > settings.MaxCandidatesPerProvider {
			perProvider = perProvider[:settings.MaxCandidatesPerProvider]
		}
		all = append(all, perProvider...)
	}

	var scored []domain.ScoredCandidate
	for _, c := range all {
		sc := Score(query, c, settings.CreatorWeight)
		if sc.TitleScore < settings.MinTitleScore {
			rejected = append(rejected, domain.RejectedCandidate{Candidate: c, Reason: "title_score below min_title_score"})
			continue
		}
		scored = append(scored, sc)
	}

	rank(scored, settings.priorityOf)

	sel := domain.Selection{Rejected: rejected}
	if len(scored) > 0 {
		sel.Primary = scored[0]
		sel.Fallbacks = scored[1:]
	}
	return sel, nil
}

// SequentialFirstHit runs spec.md §4.5's sequential_first_hit strategy:
// walk providers in provider_hierarchy order, stop at the first one that
// yields any candidate passing min_title_score.
func SequentialFirstHit(ctx context.Context, query domain.InputRecord, providers map[string]Searcher, settings Settings) (domain.Selection, error) {
	var rejected []domain.RejectedCandidate

	for _, key := range settings.ProviderHierarchy {
		p, ok := providers[key]
		if !ok {
			continue
		}
		maxResults := settings.MaxResultsPerProvider
		if maxResults <= 0 {
			maxResults = settings.MaxCandidatesPerProvider
		}
		cands, err := p.Search(ctx, query.Title, query.Creator, maxResults)
		if err != nil {
			continue
		}

		var scored []domain.ScoredCandidate
		for _, c := range cands {
			sc := Score(query, c, settings.CreatorWeight)
			if sc.TitleScore < settings.MinTitleScore {
				rejected = append(rejected, domain.RejectedCandidate{Candidate: c, Reason: "title_score below min_title_score"})
				continue
			}
			scored = append(scored, sc)
		}
		if len(scored) == 0 {
			continue
		}
		rank(scored, settings.priorityOf)
		return domain.Selection{Primary: scored[0], Fallbacks: scored[1:], Rejected: rejected}, nil
	}

	return domain.Selection{Rejected: rejected}, nil
}
