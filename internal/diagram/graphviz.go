package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderSVG renders a DiagramModel as an SVG document using graphviz.
func RenderSVG(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(nodeText(node))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
		if eErr == nil && edge.Label != "" {
			e.SetLabel(edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render SVG: %w", err)
	}
	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and overlay.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindAnd, NodeKindOr:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindNot:
		gvNode.SetShape(cgraph.HexagonShape)
	case NodeKindConst:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindBranch:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}

	switch {
	case node.Kind == NodeKindBranch:
		if node.Label == "yes" {
			applyStatusColor(gvNode, StatusTrue)
		} else {
			applyStatusColor(gvNode, StatusFalse)
		}
	case node.Overlay != nil:
		applyStatusColor(gvNode, node.Overlay.Status)
	case node.Kind == NodeKindInvalid:
		applyStatusColor(gvNode, StatusError)
	}
}

// applyStatusColor sets fill color and style based on status.
func applyStatusColor(gvNode *cgraph.Node, status Status) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch status {
	case StatusTrue:
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case StatusFalse:
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case StatusError:
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	case StatusSkipped:
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}
