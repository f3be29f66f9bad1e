// Package diagram draws a canonical expression tree as a flowchart. Groups and
// negations are inner nodes, comparisons and constants are leaves, and an
// optional overlay shows how each node fared against a given context.
package diagram

// NodeKind classifies a diagram node for shape selection.
type NodeKind string

const (
	NodeKindAnd     NodeKind = "and"
	NodeKindOr      NodeKind = "or"
	NodeKindNot     NodeKind = "not"
	NodeKindCompare NodeKind = "compare"
	NodeKindConst   NodeKind = "const"
	NodeKindInvalid NodeKind = "invalid"
	// NodeKindBranch is the virtual outgoing edge (yes/no) picked by the
	// evaluation; only present when the model carries an overlay.
	NodeKindBranch NodeKind = "branch"
)

// Status is the value a node took during evaluation.
type Status string

const (
	StatusTrue    Status = "true"
	StatusFalse   Status = "false"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// DiagramModel is the intermediate representation consumed by all renderers.
// Nodes are in depth-first order with the root first.
type DiagramModel struct {
	Title string  `json:"title,omitempty"`
	Nodes []*Node `json:"nodes"`
	Edges []Edge  `json:"edges"`
}

// Node is one element of the tree.
type Node struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Kind    NodeKind `json:"kind"`
	Depth   int      `json:"depth"`
	Overlay *Overlay `json:"overlay,omitempty"`
}

// Overlay annotates a node with its evaluation result. Detail holds the
// resolved operands of a comparison.
type Overlay struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Edge connects a parent to a child.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// children returns the IDs of the nodes directly below id, in order.
func (m *DiagramModel) children(id string) []string {
	var out []string
	for _, e := range m.Edges {
		if e.From == id {
			out = append(out, e.To)
		}
	}
	return out
}

func (m *DiagramModel) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
