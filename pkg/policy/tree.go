package policy

import (
	"slices"

	"github.com/yuxki/dytrust/pkg/certs"
)

// Node is a node of the RFC 5280 valid_policy_tree. A node owns its
// children; there are no parent references.
type Node struct {
	ValidPolicy       string
	Qualifiers        []string
	ExpectedPolicySet []string
	Children          []*Node
}

// NewTree returns the initial tree: a single anyPolicy node at depth 0.
func NewTree() *Node {
	return &Node{
		ValidPolicy:       certs.AnyPolicy,
		ExpectedPolicySet: []string{certs.AnyPolicy},
	}
}

// AddChild appends a child node and returns it.
func (n *Node) AddChild(validPolicy string, qualifiers []string, expected []string) *Node {
	child := &Node{
		ValidPolicy:       validPolicy,
		Qualifiers:        slices.Clone(qualifiers),
		ExpectedPolicySet: slices.Clone(expected),
	}
	n.Children = append(n.Children, child)
	return child
}

// Expects reports whether policy is in the expected policy set.
func (n *Node) Expects(policy string) bool {
	return slices.Contains(n.ExpectedPolicySet, policy)
}

func (n *Node) hasChild(policy string) bool {
	for _, c := range n.Children {
		if c.ValidPolicy == policy {
			return true
		}
	}
	return false
}

// AtDepth returns the nodes depth levels below n. AtDepth(0) is n itself.
func (n *Node) AtDepth(depth int) []*Node {
	if depth == 0 {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Children {
		out = append(out, c.AtDepth(depth-1)...)
	}
	return out
}

// removeAtDepth deletes the nodes at depth whose valid policy is policy.
func (n *Node) removeAtDepth(depth int, policy string) {
	if depth <= 0 {
		return
	}
	if depth == 1 {
		n.Children = slices.DeleteFunc(n.Children, func(c *Node) bool {
			return c.ValidPolicy == policy
		})
		return
	}
	for _, c := range n.Children {
		c.removeAtDepth(depth-1, policy)
	}
}

// prune deletes every node above depth level that has no children, until
// no such node remains. It returns nil when the root itself is deleted.
func prune(root *Node, level int) *Node {
	if root == nil {
		return nil
	}
	for pruneOnce(root, 0, level) {
	}
	if level > 0 && len(root.Children) == 0 {
		return nil
	}
	return root
}

func pruneOnce(n *Node, depth, level int) bool {
	removed := false
	kept := n.Children[:0]
	for _, c := range n.Children {
		if depth+1 < level {
			if pruneOnce(c, depth+1, level) {
				removed = true
			}
			if len(c.Children) == 0 {
				removed = true
				continue
			}
		}
		kept = append(kept, c)
	}
	clear(n.Children[len(kept):])
	n.Children = kept
	return removed
}

// Policies returns the valid policies of the nodes at depth.
func (n *Node) Policies(depth int) []string {
	var out []string
	for _, node := range n.AtDepth(depth) {
		if !slices.Contains(out, node.ValidPolicy) {
			out = append(out, node.ValidPolicy)
		}
	}
	return out
}
