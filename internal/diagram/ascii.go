package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status.
func statusTag(status Status) string {
	switch status {
	case StatusTrue:
		return "[TRUE]"
	case StatusFalse:
		return "[FALSE]"
	case StatusSkipped:
		return "[SKIP]"
	case StatusError:
		return "[ERROR]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as an indented tree drawn with
// box-drawing characters, root first.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}
	if len(model.Nodes) == 0 {
		return b.String()
	}

	root := model.Nodes[0]
	b.WriteString(asciiLine(root))
	b.WriteByte('\n')
	kids := model.children(root.ID)
	for i, id := range kids {
		if id == branchID {
			continue
		}
		renderSubtree(&b, model, id, "", lastTreeChild(kids, i))
	}

	if branch := model.node(branchID); branch != nil {
		fmt.Fprintf(&b, "\n=> %s\n", branch.Label)
	}
	return b.String()
}

func renderSubtree(b *strings.Builder, model *DiagramModel, id, prefix string, last bool) {
	node := model.node(id)
	if node == nil {
		return
	}
	connector, indent := "├── ", "│   "
	if last {
		connector, indent = "└── ", "    "
	}
	b.WriteString(prefix + connector + asciiLine(node))
	b.WriteByte('\n')

	kids := model.children(id)
	for i, child := range kids {
		renderSubtree(b, model, child, prefix+indent, i == len(kids)-1)
	}
}

// lastTreeChild reports whether kids[i] is the last child other than the
// virtual branch node.
func lastTreeChild(kids []string, i int) bool {
	for _, id := range kids[i+1:] {
		if id != branchID {
			return false
		}
	}
	return true
}

func asciiLine(node *Node) string {
	line := node.Label
	if node.Overlay == nil {
		return line
	}
	if tag := statusTag(node.Overlay.Status); tag != "" {
		line += " " + tag
	}
	if node.Overlay.Detail != "" {
		line += " " + node.Overlay.Detail
	}
	if node.Overlay.Error != "" {
		line += " " + node.Overlay.Error
	}
	return line
}
