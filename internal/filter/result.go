package filter

// Result is a sum type of all possible filtering verdicts.  See the following
// types as implementations:
//
//   - [*ResultAllowed]
//   - [*ResultBlocked]
type Result interface {
	// MatchedRule returns data about the matched rule and its rule list.
	MatchedRule() (id ID, text RuleText)

	// isResult is a marker method.
	isResult()
}

// ResultAllowed means that this request was allowed by an allowlist rule
// within the given filter list.
type ResultAllowed struct {
	List ID
	Rule RuleText
}

// type check
var _ Result = (*ResultAllowed)(nil)

// MatchedRule implements the [Result] interface for *ResultAllowed.
func (a *ResultAllowed) MatchedRule() (id ID, text RuleText) {
	return a.List, a.Rule
}

// isResult implements the [Result] interface for *ResultAllowed.
func (*ResultAllowed) isResult() {}

// ResultBlocked means that this request was blocked by a blocklist rule
// within the given filter list.
type ResultBlocked struct {
	List ID
	Rule RuleText
}

// type check
var _ Result = (*ResultBlocked)(nil)

// MatchedRule implements the [Result] interface for *ResultBlocked.
func (b *ResultBlocked) MatchedRule() (id ID, text RuleText) {
	return b.List, b.Rule
}

// isResult implements the [Result] interface for *ResultBlocked.
func (*ResultBlocked) isResult() {}
