package policy

import (
	"github.com/amberdns/amberdns/internal/filter"
)

// Verdict is the decision of the policy engine for a single question.
type Verdict struct {
	// Rule is the text of the matched rule, if any.
	Rule filter.RuleText

	// List is the filter list the matched rule came from.  It is
	// [filter.IDNone] when no rule matched.
	List filter.ID

	// Block is true when the question must be answered with the block action.
	// It is false both for allow rules and for block rules neutralized by a
	// blocking pause, so a logger must look at List to tell a plain pass from
	// a neutralized block.
	Block bool
}

// Reason returns the matched rule in the "list:rule" form used by the query
// log.  It is empty when no rule matched.
func (v Verdict) Reason() (s string) {
	if v.List == filter.IDNone {
		return ""
	}

	return string(v.List) + ":" + string(v.Rule)
}
