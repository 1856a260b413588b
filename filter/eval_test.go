package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ESGI-M2/docuorm/filter"
)

func TestEvalBinaryOperators(t *testing.T) {
	row := filter.Row{"age": 30, "name": "Ada", "tags": []any{"admin", "beta"}}

	assert.True(t, filter.Eval(filter.Bin(filter.Eq, "age", 30), row))
	assert.False(t, filter.Eval(filter.Bin(filter.Eq, "age", 31), row))
	assert.True(t, filter.Eval(filter.Bin(filter.Gt, "age", 10), row))
	assert.True(t, filter.Eval(filter.Bin(filter.StartsWith, "name", "Ad"), row))
	assert.True(t, filter.Eval(filter.Bin(filter.ArrayContains, "tags", []any{"admin"}), row))
	assert.False(t, filter.Eval(filter.Bin(filter.ArrayContains, "tags", []any{"root"}), row))
}

func TestEvalNullSemantics(t *testing.T) {
	row := filter.Row{"name": "Ada"}
	assert.True(t, filter.Eval(filter.IsNull("missing"), row))
	assert.False(t, filter.Eval(filter.IsNotNull("missing"), row))
	assert.True(t, filter.Eval(filter.IsNotNull("name"), row))
}

func TestEvalLogicalShortCircuit(t *testing.T) {
	row := filter.Row{"a": 1, "b": 2}
	and := filter.All(filter.Bin(filter.Eq, "a", 1), filter.Bin(filter.Eq, "b", 2))
	or := filter.Any(filter.Bin(filter.Eq, "a", 99), filter.Bin(filter.Eq, "b", 2))
	assert.True(t, filter.Eval(and, row))
	assert.True(t, filter.Eval(or, row))
	assert.False(t, filter.Eval(filter.Negate(and), row))
}

func TestReferencedFieldsDedupesInOrder(t *testing.T) {
	expr := filter.All(
		filter.Bin(filter.Eq, "a", 1),
		filter.Bin(filter.Eq, "b", 2),
		filter.Bin(filter.Eq, "a", 3),
	)
	assert.Equal(t, []string{"a", "b"}, filter.ReferencedFields(expr))
}

func TestJSONRoundTrip(t *testing.T) {
	expr := filter.All(
		filter.Bin(filter.Eq, "status", "active"),
		filter.Any(filter.Bin(filter.Gt, "age", 18), filter.IsNull("age")),
	)
	data, err := filter.MarshalExpr(expr)
	require.NoError(t, err)

	back, err := filter.UnmarshalExpr(data)
	require.NoError(t, err)

	row := filter.Row{"status": "active", "age": nil}
	assert.Equal(t, filter.Eval(expr, row), filter.Eval(back, row))
}

func TestJSONRejectsMalformedPayloads(t *testing.T) {
	_, err := filter.UnmarshalExpr([]byte(`{"kind":"binary","op":"eq"}`))
	assert.Error(t, err)

	_, err = filter.UnmarshalExpr([]byte(`{"kind":"unary","op":"not"}`))
	assert.Error(t, err)

	_, err = filter.UnmarshalExpr([]byte(`{"kind":"logical","op":"and","operands":[]}`))
	assert.Error(t, err)
}
