package diagram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/credlogic/internal/evaluator"
	"github.com/rendis/credlogic/internal/expressions"
	"github.com/rendis/credlogic/pkg/schema"
)

const branchID = "__branch__"

// Build constructs a DiagramModel from a canonical tree. The tree is
// normalized first so the drawing matches what the evaluator runs.
//
// When data is non-nil each node gets an overlay with the value it takes
// against data. Children that a group never reaches, because an earlier
// sibling already decided it, are marked skipped. A virtual branch node shows
// the edge the condition takes.
func Build(title string, n schema.Node, data map[string]any) (*DiagramModel, error) {
	if n == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: nil expression")
	}

	b := &builder{model: &DiagramModel{Title: title}, data: data, overlay: data != nil}
	root := evaluator.Normalize(n)
	top := b.add(root, 0, true)

	if b.overlay {
		out, err := evaluator.Evaluate(root, data)
		label := "not matched"
		switch {
		case err != nil:
			label = "error"
		case out.Matched:
			label = "matched"
		}
		b.model.Nodes = append(b.model.Nodes, &Node{
			ID:    branchID,
			Label: string(schema.BranchFor(err == nil && out.Matched)),
			Kind:  NodeKindBranch,
			Depth: 1,
		})
		b.model.Edges = append(b.model.Edges, Edge{From: top.ID, To: branchID, Label: label})
	}
	return b.model, nil
}

type builder struct {
	model   *DiagramModel
	data    map[string]any
	overlay bool
	seq     int
}

func (b *builder) add(n schema.Node, depth int, reached bool) *Node {
	b.seq++
	node := &Node{ID: "n" + strconv.Itoa(b.seq), Depth: depth}
	node.Kind, node.Label = describe(n)
	if b.overlay {
		node.Overlay = b.evaluate(n, reached)
	}
	b.model.Nodes = append(b.model.Nodes, node)

	switch v := n.(type) {
	case *schema.Group:
		open := reached
		for _, c := range v.Children {
			child := b.add(c, depth+1, open)
			b.model.Edges = append(b.model.Edges, Edge{From: node.ID, To: child.ID})
			if open && child.Overlay != nil && decides(v.Kind, child.Overlay.Status) {
				open = false
			}
		}
	case *schema.Not:
		child := b.add(v.Child, depth+1, reached)
		b.model.Edges = append(b.model.Edges, Edge{From: node.ID, To: child.ID})
	}
	return node
}

func (b *builder) evaluate(n schema.Node, reached bool) *Overlay {
	if !reached {
		return &Overlay{Status: StatusSkipped}
	}
	out, trace, err := evaluator.EvaluateTrace(n, b.data)
	if err != nil {
		return &Overlay{Status: StatusError, Error: err.Error()}
	}
	ov := &Overlay{Status: StatusFalse}
	if out.Matched {
		ov.Status = StatusTrue
	}
	if c, ok := n.(*schema.Compare); ok && len(trace) == 1 {
		ov.Detail = fmt.Sprintf("%s %s %s", value(trace[0].Left), c.Op, value(trace[0].Right))
	}
	return ov
}

// decides reports whether a child with status settles its group: an error
// always does, otherwise false settles "and" and true settles "or".
func decides(kind schema.GroupKind, status Status) bool {
	switch status {
	case StatusError:
		return true
	case StatusFalse:
		return kind == schema.GroupAnd
	case StatusTrue:
		return kind == schema.GroupOr
	}
	return false
}

func describe(n schema.Node) (NodeKind, string) {
	switch v := n.(type) {
	case *schema.Group:
		if v.Kind == schema.GroupOr {
			return NodeKindOr, "OR"
		}
		return NodeKindAnd, "AND"
	case *schema.Not:
		return NodeKindNot, "NOT"
	case *schema.Const:
		return NodeKindConst, strconv.FormatBool(v.Value)
	case *schema.Compare:
		text, err := expressions.Render(v, expressions.FormatText)
		if err != nil {
			return NodeKindInvalid, messageOf(err)
		}
		return NodeKindCompare, text
	case *schema.Invalid:
		return NodeKindInvalid, v.Err().Message
	}
	return NodeKindInvalid, fmt.Sprintf("unsupported node %T", n)
}

func messageOf(err error) string {
	if ce, ok := err.(*schema.CondError); ok {
		return ce.Message
	}
	return err.Error()
}

// value formats a resolved operand the way it appears in the canonical JSON.
func value(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
