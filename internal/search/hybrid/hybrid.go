// Package hybrid implements §4.G Hybrid Search: gather lexical and
// semantic candidates, enrich them with edge/tag counts, score each
// across eight weighted components, and return one fused ranking.
//
// No teacher file does this directly, but the weighted-component-sum /
// constants-block / sort.Slice-by-score idiom is the same shape as the
// teacher's spreading-activation scorer in internal/graph/activation.go
// (SpreadActivation, applyLateralInhibition, applySigmoid) — this package
// generalises that idiom from a single activation signal to eight
// independent, normalised components. Candidate enrichment is fanned out
// with golang.org/x/sync/errgroup, the bounded-concurrency idiom the
// teacher's activation.go uses for its three-trigger dual-seed search.
package hybrid

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vthunder/pi-brain/internal/filter"
	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
	"github.com/vthunder/pi-brain/internal/search/fts"
	"github.com/vthunder/pi-brain/internal/search/vector"
	"github.com/vthunder/pi-brain/internal/store"
)

// Weights holds the eight component weights. The zero value is invalid;
// use DefaultWeights.
type Weights struct {
	Vector     float64
	Keyword    float64
	Relation   float64
	Content    float64
	Temporal   float64
	Tag        float64
	Importance float64
	Recency    float64
}

// DefaultWeights matches spec.md §4.G's table (sum ≈ 1.30, normalised per
// query by the sum of components actually active).
var DefaultWeights = Weights{
	Vector:     0.25,
	Keyword:    0.15,
	Relation:   0.25,
	Content:    0.25,
	Temporal:   0.15,
	Tag:        0.10,
	Importance: 0.05,
	Recency:    0.10,
}

// Query bundles the search parameters beyond query text/vector and limits.
type Query struct {
	Text            string
	Vector          []float32
	Filters         filter.Filters
	IncludeArchived bool
	BoostTags       []string
	ReferenceTime   *time.Time // for the temporal component; nil => temporal is a fixed 0.5
	Weights         Weights    // zero value => DefaultWeights
	Limit           int
	Offset          int
}

// Components is the per-candidate score breakdown, each member in [0,1]
// (or nil when the underlying signal wasn't available).
type Components struct {
	Vector     *float64
	Keyword    *float64
	Relation   float64
	Content    float64
	Temporal   float64
	Tag        float64
	Importance float64
	Recency    float64
}

// Hit is one fused hybrid-search result.
type Hit struct {
	Node       *model.Node
	Score      float64
	Components Components
}

// Result is the page of hits plus whether the vector leg contributed.
type Result struct {
	Hits            []Hit
	Total           int
	VectorContributed bool
}

type candidate struct {
	node       *model.Node
	distance   *float64
	rank       *float64
	edgeCount  int
	boostMatch int
}

// Search runs the full hybrid pipeline: gather, enrich, score, sort, page.
func Search(s *store.Store, repo *nodestore.Repository, q Query) (*Result, error) {
	weights := q.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	limit := model.ClampLimit(q.Limit)
	offset := model.ClampOffset(q.Offset)

	candidates := make(map[string]*candidate)
	vectorContributed := false

	if len(q.Vector) > 0 && s.IsVecLoaded() {
		hits, err := vector.Search(s, q.Vector, q.Filters, limit*3, nil)
		if err != nil {
			return nil, fmt.Errorf("hybrid: vector leg: %w", err)
		}
		if hits != nil {
			vectorContributed = true
		}
		for _, h := range hits {
			d := h.Distance
			candidates[h.Node.ID] = &candidate{node: h.Node, distance: &d}
		}
	}

	if strings.TrimSpace(q.Text) != "" {
		ftsHits, _, err := fts.Search(s, q.Text, nil, q.Filters, limit*3, 0)
		if err != nil {
			return nil, fmt.Errorf("hybrid: fts leg: %w", err)
		}
		for _, h := range ftsHits {
			r := h.Rank
			if c, ok := candidates[h.Node.ID]; ok {
				c.rank = &r
			} else {
				candidates[h.Node.ID] = &candidate{node: h.Node, rank: &r}
			}
		}
	}

	if !q.IncludeArchived {
		for id, c := range candidates {
			if c.node.Archived {
				delete(candidates, id)
			}
		}
	}

	if err := enrich(repo, candidates, q.BoostTags); err != nil {
		return nil, fmt.Errorf("hybrid: enrich: %w", err)
	}

	queryTokens := contentTokens(q.Text)
	now := time.Now()

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		comp := scoreComponents(c, queryTokens, q.ReferenceTime, len(q.BoostTags), now)
		hits = append(hits, Hit{
			Node:       c.node,
			Score:      fuse(comp, weights),
			Components: comp,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	total := len(hits)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return &Result{
		Hits:              hits[offset:end],
		Total:             total,
		VectorContributed: vectorContributed,
	}, nil
}

// enrich batch-fans-out per-candidate edge counts and boost-tag matches
// using a bounded worker group, mirroring the teacher's concurrent
// dual-trigger seeding in SpreadActivationFromEmbedding.
func enrich(repo *nodestore.Repository, candidates map[string]*candidate, boostTags []string) error {
	if len(candidates) == 0 {
		return nil
	}
	boostSet := make(map[string]bool, len(boostTags))
	for _, t := range boostTags {
		boostSet[strings.ToLower(t)] = true
	}

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(8)

	for _, c := range candidates {
		c := c
		g.Go(func() error {
			edges, err := repo.GetNodeEdges(c.node.ID)
			if err != nil {
				return err
			}
			c.edgeCount = len(edges)

			if len(boostSet) == 0 {
				return nil
			}
			node, err := repo.GetNode(c.node.ID)
			if err != nil || node == nil {
				return nil
			}
			matches := 0
			for _, tag := range node.Tags {
				if boostSet[strings.ToLower(tag)] {
					matches++
				}
			}
			c.boostMatch = matches
			return nil
		})
	}
	return g.Wait()
}

func scoreComponents(c *candidate, queryTokens map[string]bool, refTime *time.Time, boostTagCount int, now time.Time) Components {
	comp := Components{}

	if c.distance != nil {
		v := 1 / (1 + *c.distance)
		comp.Vector = &v
	}
	if c.rank != nil {
		absRank := math.Abs(*c.rank)
		k := absRank / (absRank + 1)
		comp.Keyword = &k
	}

	comp.Relation = math.Min(float64(c.edgeCount)/10, 1)

	comp.Content = contentOverlap(queryTokens, c.node.Summary())

	if refTime != nil {
		age := math.Abs(c.node.Timestamp.Sub(*refTime).Hours() / 24)
		comp.Temporal = math.Exp(-age / 30)
	} else {
		comp.Temporal = 0.5
	}

	if boostTagCount > 0 {
		comp.Tag = float64(c.boostMatch) / float64(boostTagCount)
	}

	comp.Importance = c.node.EffectiveImportance()

	ageDays := math.Max(0, now.Sub(c.node.Timestamp).Hours()/24)
	comp.Recency = math.Exp(-ageDays / 30)

	return comp
}

// fuse combines components via the active weights, normalising by the
// sum of weights whose component is present (vector/keyword may be nil).
func fuse(c Components, w Weights) float64 {
	var sum, active float64

	if c.Vector != nil {
		sum += *c.Vector * w.Vector
		active += w.Vector
	}
	if c.Keyword != nil {
		sum += *c.Keyword * w.Keyword
		active += w.Keyword
	}
	sum += c.Relation * w.Relation
	active += w.Relation
	sum += c.Content * w.Content
	active += w.Content
	sum += c.Temporal * w.Temporal
	active += w.Temporal
	sum += c.Tag * w.Tag
	active += w.Tag
	sum += c.Importance * w.Importance
	active += w.Importance
	sum += c.Recency * w.Recency
	active += w.Recency

	if active == 0 {
		return 0
	}
	return sum / active
}

// contentTokens lowercases and splits q into tokens of length > 2.
func contentTokens(q string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(q)) {
		if len(f) > 2 {
			tokens[f] = true
		}
	}
	return tokens
}

// contentOverlap is |queryTokens ∩ summaryTokens| / |queryTokens|.
func contentOverlap(queryTokens map[string]bool, summary string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	summaryTokens := contentTokens(summary)
	matched := 0
	for t := range queryTokens {
		if summaryTokens[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// NodeScore computes the same component breakdown for a single node,
// without running the candidate-gathering legs (calculateNodeHybridScore
// in spec.md §4.G). Vector/keyword components are nil unless the caller
// supplies distance/rank directly.
func NodeScore(repo *nodestore.Repository, nodeID string, q Query, distance, rank *float64) (*Hit, error) {
	node, err := repo.GetNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("hybrid: load node: %w", err)
	}
	if node == nil {
		return nil, nil
	}

	c := &candidate{node: node, distance: distance, rank: rank}
	candidates := map[string]*candidate{nodeID: c}
	if err := enrich(repo, candidates, q.BoostTags); err != nil {
		return nil, fmt.Errorf("hybrid: enrich: %w", err)
	}

	weights := q.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	comp := scoreComponents(c, contentTokens(q.Text), q.ReferenceTime, len(q.BoostTags), time.Now())
	return &Hit{Node: node, Score: fuse(comp, weights), Components: comp}, nil
}
