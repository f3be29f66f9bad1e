package schema

// Event type constants written to the evaluation audit log and log records.
const (
	EventConditionSaved     = "condition_saved"
	EventConditionEvaluated = "condition_evaluated"
	EventConditionFailed    = "condition_failed"
)

// Branch is the outgoing edge chosen at a condition node.
type Branch string

const (
	BranchYes Branch = "yes"
	BranchNo  Branch = "no"
)

// BranchFor maps an evaluation result to its edge.
func BranchFor(matched bool) Branch {
	if matched {
		return BranchYes
	}
	return BranchNo
}

// ErrorPolicy decides what the decision harness does when evaluation fails.
type ErrorPolicy string

const (
	// PolicyNegative logs the failure and takes the "no" edge.
	PolicyNegative ErrorPolicy = "negative"
	// PolicyFail returns the evaluation error to the caller.
	PolicyFail ErrorPolicy = "fail"
)

// Valid reports whether p is a known policy. The empty policy means negative.
func (p ErrorPolicy) Valid() bool {
	return p == "" || p == PolicyNegative || p == PolicyFail
}
