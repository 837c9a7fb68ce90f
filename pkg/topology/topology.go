// Package topology computes the propagation edges for a chain or tree of
// replication targets: which node forwards to which children, given only
// the ordered target list.
package topology

import "fmt"

// Method selects how N targets are wired together.
type Method int

const (
	Chain Method = iota
	Tree
)

// ParseMethod maps the CLI's --send-method string onto a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "chain":
		return Chain, nil
	case "tree":
		return Tree, nil
	default:
		return Chain, fmt.Errorf("unknown send method %q (want chain or tree)", s)
	}
}

func (m Method) String() string {
	if m == Tree {
		return "tree"
	}
	return "chain"
}

// Edge is one SET_CHAIN_REQ to issue: ParentIndex names the node (by index
// into the target/token arrays) that should forward to Children.
type Edge struct {
	ParentIndex int
	Children    []int
}

// Build computes the forwarding edges for n targets indexed [0, n). Root is
// always index 0. Targets with no children are omitted — nothing needs to
// be configured at a leaf.
func Build(method Method, n int) []Edge {
	switch method {
	case Tree:
		return buildTree(n)
	default:
		return buildChain(n)
	}
}

func buildChain(n int) []Edge {
	if n <= 1 {
		return nil
	}
	edges := make([]Edge, 0, n-1)
	for i := 0; i < n-1; i++ {
		edges = append(edges, Edge{ParentIndex: i, Children: []int{i + 1}})
	}
	return edges
}

func buildTree(n int) []Edge {
	var edges []Edge
	for i := 0; 2*i+1 < n; i++ {
		children := []int{2*i + 1}
		if 2*i+2 < n {
			children = append(children, 2*i+2)
		}
		edges = append(edges, Edge{ParentIndex: i, Children: children})
	}
	return edges
}
