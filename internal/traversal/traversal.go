// Package traversal implements §4.H Graph Traversal: bounded BFS over the
// edge table with direction and edge-type filters, subgraph union, and
// shortest-path search.
//
// Grounded on the teacher's neighbor-merge idiom in
// internal/graph/traces.go (GetTraceNeighbors/GetTraceNeighborsThroughEntities
// — direct neighbors plus a second relation kind, merged and deduped by
// id), generalised here to a proper multi-hop BFS frontier instead of a
// single-hop neighbor fetch.
package traversal

import (
	"fmt"
	"sort"

	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
)

// Direction restricts which edges are followed at each hop.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Options configures getConnectedNodes.
type Options struct {
	Depth     int // clamped to [1, 5], default 5
	Direction Direction
	EdgeTypes []model.EdgeType // nil/empty => no type filter
}

func (o Options) clampedDepth() int {
	d := o.Depth
	if d <= 0 || d > 5 {
		d = 5
	}
	return d
}

func (o Options) direction() Direction {
	if o.Direction == "" {
		return DirectionBoth
	}
	return o.Direction
}

func (o Options) allowsType(t model.EdgeType) bool {
	if len(o.EdgeTypes) == 0 {
		return true
	}
	for _, want := range o.EdgeTypes {
		if want == t {
			return true
		}
	}
	return false
}

// ConnectedNode is one BFS result: the node reached, its hop distance
// from root, and the edge that discovered it (its orientation relative
// to root is recoverable from Edge.SourceNodeID/TargetNodeID).
type ConnectedNode struct {
	Node        *model.Node
	Edge        *model.Edge
	HopDistance int
}

// GetConnectedNodes performs a depth-bounded BFS from root, following
// edges per opts.Direction and opts.EdgeTypes, recording each newly
// discovered edge exactly once. The root itself is excluded from the
// result; nodes are returned ordered by timestamp descending.
func GetConnectedNodes(repo *nodestore.Repository, root string, opts Options) ([]ConnectedNode, error) {
	depth := opts.clampedDepth()
	dir := opts.direction()

	visited := map[string]bool{root: true}
	seenEdges := map[string]bool{}
	frontier := []string{root}
	var results []ConnectedNode

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			edges, err := neighborEdges(repo, id, dir)
			if err != nil {
				return nil, fmt.Errorf("traversal: load edges for %s: %w", id, err)
			}
			for _, e := range edges {
				if !opts.allowsType(e.Type) || seenEdges[e.ID] {
					continue
				}
				other := otherEndpoint(e, id)
				if other == "" || other == root {
					seenEdges[e.ID] = true
					continue
				}
				seenEdges[e.ID] = true

				if visited[other] {
					continue
				}
				visited[other] = true

				node, err := repo.GetNode(other)
				if err != nil {
					return nil, fmt.Errorf("traversal: load node %s: %w", other, err)
				}
				if node == nil {
					continue
				}
				results = append(results, ConnectedNode{Node: node, Edge: e, HopDistance: hop})
				next = append(next, other)
			}
		}
		frontier = next
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Node.Timestamp.After(results[j].Node.Timestamp)
	})
	return results, nil
}

// neighborEdges fetches the edges relevant to id given dir.
func neighborEdges(repo *nodestore.Repository, id string, dir Direction) ([]*model.Edge, error) {
	switch dir {
	case DirectionOutgoing:
		return repo.GetEdgesFrom(id)
	case DirectionIncoming:
		return repo.GetEdgesTo(id)
	default:
		return repo.GetNodeEdges(id)
	}
}

func otherEndpoint(e *model.Edge, from string) string {
	switch from {
	case e.SourceNodeID:
		return e.TargetNodeID
	case e.TargetNodeID:
		return e.SourceNodeID
	default:
		return ""
	}
}

// Subgraph is the union of getConnectedNodes(root) for each root, with
// roots themselves included in Nodes and edges deduplicated by id.
type Subgraph struct {
	Nodes []*model.Node
	Edges []*model.Edge
}

// GetSubgraph unions the connected-node results of every root.
func GetSubgraph(repo *nodestore.Repository, roots []string, opts Options) (*Subgraph, error) {
	nodeSeen := map[string]bool{}
	edgeSeen := map[string]bool{}
	sub := &Subgraph{}

	for _, root := range roots {
		rootNode, err := repo.GetNode(root)
		if err != nil {
			return nil, fmt.Errorf("traversal: load root %s: %w", root, err)
		}
		if rootNode != nil && !nodeSeen[root] {
			nodeSeen[root] = true
			sub.Nodes = append(sub.Nodes, rootNode)
		}

		connected, err := GetConnectedNodes(repo, root, opts)
		if err != nil {
			return nil, err
		}
		for _, c := range connected {
			if !nodeSeen[c.Node.ID] {
				nodeSeen[c.Node.ID] = true
				sub.Nodes = append(sub.Nodes, c.Node)
			}
			if !edgeSeen[c.Edge.ID] {
				edgeSeen[c.Edge.ID] = true
				sub.Edges = append(sub.Edges, c.Edge)
			}
		}
	}
	return sub, nil
}

// PathOptions configures FindPath.
type PathOptions struct {
	MaxDepth int // default 10, clamped to [1, 20]
}

func (o PathOptions) maxDepth() int {
	switch {
	case o.MaxDepth <= 0:
		return 10
	case o.MaxDepth > 20:
		return 20
	default:
		return o.MaxDepth
	}
}

// Path is a from->to route: the ordered node ids (including endpoints)
// and the edges traversed between consecutive nodes.
type Path struct {
	NodeIDs []string
	Edges   []*model.Edge
}

// maxPathResults sets FindPath's exploration bound: the BFS stops after
// queueing maxPathResults*50 nodes.
const maxPathResults = 20

// FindPath runs a breadth-first search over undirected edges from from to
// to, carrying the partial path in the queue, and returns the first
// (shortest-hop) path found, or nil if none exists within maxDepth.
func FindPath(repo *nodestore.Repository, from, to string, opts PathOptions) (*Path, error) {
	if from == to {
		return &Path{NodeIDs: []string{from}}, nil
	}
	maxDepth := opts.maxDepth()

	type queueItem struct {
		nodeID  string
		path    []string
		edges   []*model.Edge
	}

	visited := map[string]bool{from: true}
	queue := []queueItem{{nodeID: from, path: []string{from}}}
	explored := 0

	for len(queue) > 0 && explored < maxPathResults*50 {
		item := queue[0]
		queue = queue[1:]

		if len(item.path)-1 >= maxDepth {
			continue
		}

		edges, err := repo.GetNodeEdges(item.nodeID)
		if err != nil {
			return nil, fmt.Errorf("traversal: load edges for %s: %w", item.nodeID, err)
		}
		for _, e := range edges {
			other := otherEndpoint(e, item.nodeID)
			if other == "" || visited[other] {
				continue
			}
			nextPath := append(append([]string{}, item.path...), other)
			nextEdges := append(append([]*model.Edge{}, item.edges...), e)

			if other == to {
				return &Path{NodeIDs: nextPath, Edges: nextEdges}, nil
			}

			visited[other] = true
			explored++
			if explored >= maxPathResults*50 {
				break
			}
			queue = append(queue, queueItem{nodeID: other, path: nextPath, edges: nextEdges})
		}
	}
	return nil, nil
}

// GetAncestors is GetConnectedNodes with direction pinned to incoming and
// default depth 5 (unless the caller overrides Depth).
func GetAncestors(repo *nodestore.Repository, root string, depth int) ([]ConnectedNode, error) {
	return GetConnectedNodes(repo, root, Options{Depth: depth, Direction: DirectionIncoming})
}

// GetDescendants is GetConnectedNodes with direction pinned to outgoing and
// default depth 5 (unless the caller overrides Depth).
func GetDescendants(repo *nodestore.Repository, root string, depth int) ([]ConnectedNode, error) {
	return GetConnectedNodes(repo, root, Options{Depth: depth, Direction: DirectionOutgoing})
}
