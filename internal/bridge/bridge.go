// Package bridge implements §4.I Bridge Discovery: a best-first multi-hop
// explorer that surfaces indirect connections between seed nodes by
// decaying a path's score at each hop.
//
// Grounded on the teacher's SpreadActivation loop in
// internal/graph/activation.go (seed scores, per-hop decay, neighbor
// expansion, descending-score ordering) but spec.md §9 flags the
// teacher's repeated sort.Slice-then-pop as a performance footgun for a
// true priority queue — so this package drives its frontier with
// container/heap instead of the teacher's sort-and-shift.
package bridge

import (
	"container/heap"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
	"github.com/vthunder/pi-brain/pkg/nodefile"
)

const (
	defaultLimit      = 5
	defaultMaxDepth   = 2
	defaultMinScore   = 0.1
	defaultConfidence = 0.7
	hopDecay          = 0.9
	maxIterations     = 1000
)

// Options configures Discover.
type Options struct {
	Limit    int // default 5
	MaxDepth int // default 2, counted in path nodes
	MinScore float64 // default 0.1
}

func (o Options) limit() int {
	if o.Limit <= 0 {
		return defaultLimit
	}
	return o.Limit
}

func (o Options) maxDepth() int {
	if o.MaxDepth <= 0 {
		return defaultMaxDepth
	}
	return o.MaxDepth
}

func (o Options) minScore() float64 {
	if o.MinScore <= 0 {
		return defaultMinScore
	}
	return o.MinScore
}

// item is one partial (or complete) path on the frontier.
type item struct {
	currentNode string
	pathNodeIDs []string
	pathEdges   []*model.Edge
	score       float64
	index       int // heap bookkeeping
}

// priorityQueue is a max-heap on score, implementing container/heap.Interface.
type priorityQueue []*item

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].score > pq[j].score }
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return it
}

// Discovery is one materialised multi-hop path: the nodes and edges
// traversed, its decayed score, and a human-readable description.
type Discovery struct {
	NodeIDs     []string
	Edges       []*model.Edge
	Score       float64
	Description string
}

// Discover runs the best-first search from seeds and returns up to
// opts.Limit discoveries sorted by score descending.
func Discover(repo *nodestore.Repository, summarize nodefile.SummaryReader, seeds []string, opts Options) ([]Discovery, error) {
	maxDepth := opts.maxDepth()
	minScore := opts.minScore()
	limit := opts.limit()
	maxDiscoveries := 2 * limit

	pq := &priorityQueue{}
	heap.Init(pq)
	for _, seed := range seeds {
		heap.Push(pq, &item{currentNode: seed, pathNodeIDs: []string{seed}, score: 1})
	}

	nodeCache := map[string]*model.Node{}
	var discoveries []Discovery
	iterations := 0

	for pq.Len() > 0 && len(discoveries) < maxDiscoveries && iterations < maxIterations {
		iterations++
		head := heap.Pop(pq).(*item)

		if len(head.pathNodeIDs) > 1 {
			d, ok, err := materialize(repo, nodeCache, summarize, head)
			if err != nil {
				return nil, err
			}
			if ok {
				discoveries = append(discoveries, d)
			}
		}

		if len(head.pathNodeIDs) > maxDepth {
			continue
		}

		edges, err := repo.GetEdgesFrom(head.currentNode)
		if err != nil {
			return nil, fmt.Errorf("bridge: load edges from %s: %w", head.currentNode, err)
		}

		inPath := make(map[string]bool, len(head.pathNodeIDs))
		for _, id := range head.pathNodeIDs {
			inPath[id] = true
		}

		for _, e := range edges {
			if inPath[e.TargetNodeID] {
				continue // cycle suppression
			}
			confidence := defaultConfidence
			if e.Confidence != nil {
				confidence = *e.Confidence
			}
			newScore := head.score * confidence * hopDecay
			if newScore < minScore {
				continue
			}

			nextNodeIDs := append(append([]string{}, head.pathNodeIDs...), e.TargetNodeID)
			nextEdges := append(append([]*model.Edge{}, head.pathEdges...), e)
			heap.Push(pq, &item{
				currentNode: e.TargetNodeID,
				pathNodeIDs: nextNodeIDs,
				pathEdges:   nextEdges,
				score:       newScore,
			})
		}
	}

	sort.Slice(discoveries, func(i, j int) bool { return discoveries[i].Score > discoveries[j].Score })
	if len(discoveries) > limit {
		discoveries = discoveries[:limit]
	}
	return discoveries, nil
}

// materialize loads every node on the path (via a shared cache), building
// a Discovery. A missing node discards the path entirely (ok=false).
func materialize(repo *nodestore.Repository, cache map[string]*model.Node, summarize nodefile.SummaryReader, it *item) (Discovery, bool, error) {
	for _, id := range it.pathNodeIDs {
		if _, ok := cache[id]; ok {
			continue
		}
		n, err := repo.GetNode(id)
		if err != nil {
			return Discovery{}, false, fmt.Errorf("bridge: load node %s: %w", id, err)
		}
		if n == nil {
			return Discovery{}, false, nil
		}
		cache[id] = n
	}

	return Discovery{
		NodeIDs:     it.pathNodeIDs,
		Edges:       it.pathEdges,
		Score:       it.score,
		Description: describe(cache, summarize, it),
	}, true, nil
}

// describe joins a human-readable summary of each path node with the
// edge type (rendered lowercase, underscores replaced by spaces) that
// connects it to the next.
func describe(cache map[string]*model.Node, summarize nodefile.SummaryReader, it *item) string {
	var parts []string
	for i, id := range it.pathNodeIDs {
		parts = append(parts, describeNode(cache[id], summarize))
		if i < len(it.pathEdges) {
			parts = append(parts, renderEdgeType(it.pathEdges[i].Type))
		}
	}
	return strings.Join(parts, " ")
}

// describeNode resolves a display string for n: the external summary
// reader's output, falling back to the project basename, falling back
// to a short prefix of the node id.
func describeNode(n *model.Node, summarize nodefile.SummaryReader) string {
	if n == nil {
		return ""
	}
	if summarize != nil {
		if summary, ok := summarize(n.ID); ok && summary != "" {
			return summary
		}
	}
	if n.Project != "" {
		return filepath.Base(n.Project)
	}
	if len(n.ID) > 8 {
		return n.ID[:8]
	}
	return n.ID
}

func renderEdgeType(t model.EdgeType) string {
	return strings.ToLower(strings.ReplaceAll(string(t), "_", " "))
}
