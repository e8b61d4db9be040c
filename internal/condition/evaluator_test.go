package condition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowcraft/orchestrator/internal/condition"
)

func TestEvaluate_OrOfAnd(t *testing.T) {
	// (A AND B) OR C
	A := condition.Condition{Operator: condition.BooleanIsTrue, FirstValue: true}
	B := condition.Condition{Operator: condition.TextExactlyMatches, FirstValue: "x", SecondValue: "x"}
	C := condition.Condition{Operator: condition.BooleanIsTrue, FirstValue: false}

	assert.True(t, condition.Evaluate([][]condition.Condition{{A, B}, {C}}))

	CTrue := condition.Condition{Operator: condition.BooleanIsTrue, FirstValue: true}
	assert.True(t, condition.Evaluate([][]condition.Condition{{A, condition.Condition{Operator: condition.BooleanIsFalse, FirstValue: true}}, {CTrue}}))
}

func TestEvaluate_EmptyIsFalse(t *testing.T) {
	assert.False(t, condition.Evaluate(nil))
	assert.False(t, condition.Evaluate([][]condition.Condition{}))
}

func TestEvaluateBranches_FallbackTrueIffAllOthersFalse(t *testing.T) {
	falseCond := [][]condition.Condition{{{Operator: condition.BooleanIsTrue, FirstValue: false}}}
	trueCond := [][]condition.Condition{{{Operator: condition.BooleanIsTrue, FirstValue: true}}}

	branches := []condition.Branch{
		{BranchType: "CONDITION", Conditions: falseCond},
		{BranchType: "CONDITION", Conditions: falseCond},
		{BranchType: condition.BranchTypeFallback},
	}
	got := condition.EvaluateBranches(branches)
	assert.Equal(t, []bool{false, false, true}, got)

	branches[0].Conditions = trueCond
	got = condition.EvaluateBranches(branches)
	assert.Equal(t, []bool{true, false, false}, got)
}

func TestNumberOperators(t *testing.T) {
	assert.True(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.NumberIsGreaterThan, FirstValue: 20.0, SecondValue: 10.0}}}))
	assert.False(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.NumberIsGreaterThan, FirstValue: 0.0, SecondValue: 10.0}}}))
}

func TestUnknownOperatorYieldsFalse(t *testing.T) {
	assert.False(t, condition.Evaluate([][]condition.Condition{{{Operator: "UNKNOWN_OP"}}}))
}

func TestBooleanCoercion(t *testing.T) {
	assert.True(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.BooleanIsTrue, FirstValue: "YES"}}}))
	assert.True(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.BooleanIsFalse, FirstValue: "0"}}}))
}

// TestEmptyOperators_PythonFalsiness covers values that are falsy in Python
// but not string- or list-shaped, matching
// ap_condition_evaluator.py's `not first_value or ...` checks.
func TestEmptyOperators_PythonFalsiness(t *testing.T) {
	// A numeric zero is falsy in Python even though str(0) == "0" is
	// non-empty.
	assert.True(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.TextIsEmpty, FirstValue: 0}}}))
	assert.False(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.TextIsNotEmpty, FirstValue: 0}}}))

	// A non-empty string like "0" is truthy in Python (non-empty string).
	assert.False(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.TextIsEmpty, FirstValue: "0"}}}))
	assert.True(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.TextIsNotEmpty, FirstValue: "0"}}}))

	// nil and false are falsy.
	assert.True(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.TextIsEmpty, FirstValue: nil}}}))
	assert.True(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.TextIsEmpty, FirstValue: false}}}))

	// A non-empty, non-list value like a string is not a list and is
	// truthy, so LIST_IS_EMPTY must be false (not true, as a bare
	// type-assertion-failure check would wrongly report).
	assert.False(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.ListIsEmpty, FirstValue: "hi"}}}))

	// A falsy non-list value (zero) is still falsy overall.
	assert.True(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.ListIsEmpty, FirstValue: 0}}}))

	// An empty list is empty regardless of the general falsiness check.
	assert.True(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.ListIsEmpty, FirstValue: []any{}}}}))
	assert.False(t, condition.Evaluate([][]condition.Condition{{{Operator: condition.ListIsEmpty, FirstValue: []any{"x"}}}}))
}
