package schema

// Operator enumerates the comparisons available in the visual rule builder.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "notEquals"
	OpGreaterThan    Operator = "greaterThan"
	OpLessThan       Operator = "lessThan"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpContains       Operator = "contains"
	OpIn             Operator = "in"
)

// Operators lists every visual operator in display order.
var Operators = []Operator{
	OpEquals, OpNotEquals,
	OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
	OpContains, OpIn,
}

// Valid reports whether o is one of the fixed visual operators.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpGreaterOrEqual, OpLessOrEqual, OpContains, OpIn:
		return true
	}
	return false
}

// Connector joins a rule to the previous one.
type Connector string

const (
	ConnectorAnd Connector = "and"
	ConnectorOr  Connector = "or"
)

// Valid reports whether c is a known connector.
func (c Connector) Valid() bool {
	return c == ConnectorAnd || c == ConnectorOr
}

// VisualRule is one row in the visual builder.
// Field is an opaque path into the execution context; it is only resolved at
// evaluation time. Value is kept exactly as typed.
type VisualRule struct {
	ID        string    `json:"id"`
	Field     string    `json:"field"`
	Operator  Operator  `json:"operator"`
	Value     string    `json:"value"`
	Connector Connector `json:"connector,omitempty"`
}
