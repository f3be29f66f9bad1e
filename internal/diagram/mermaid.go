package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}
	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef matched fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef unmatched fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef failed fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		if cls := mermaidClass(node); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape of its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := `"` + mermaidEscapeLabel(nodeText(node)) + `"`

	switch node.Kind {
	case NodeKindAnd, NodeKindOr:
		return fmt.Sprintf("%s{%s}", id, label)
	case NodeKindNot:
		return fmt.Sprintf("%s{{%s}}", id, label)
	case NodeKindConst:
		return fmt.Sprintf("%s([%s])", id, label)
	case NodeKindInvalid:
		return fmt.Sprintf("%s>%s]", id, label)
	case NodeKindBranch:
		return fmt.Sprintf("%s((%s))", id, label)
	default: // compare
		return fmt.Sprintf("%s[%s]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel replaces characters that end a quoted Mermaid label.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "|", "#124;", "\n", " ")
	return r.Replace(s)
}

func mermaidClass(node *Node) string {
	if node.Kind == NodeKindBranch {
		if node.Label == "yes" {
			return "matched"
		}
		return "unmatched"
	}
	if node.Overlay == nil {
		return ""
	}
	switch node.Overlay.Status {
	case StatusTrue:
		return "matched"
	case StatusFalse:
		return "unmatched"
	case StatusError:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return ""
	}
}

// nodeText is the label plus the resolved operands when there are any.
func nodeText(node *Node) string {
	if node.Overlay != nil && node.Overlay.Detail != "" {
		return node.Label + " (" + node.Overlay.Detail + ")"
	}
	return node.Label
}
