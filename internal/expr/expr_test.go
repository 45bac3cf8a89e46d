package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weave-hq/weave/internal/expr"
)

func evalIn(t *testing.T, src string, env expr.MapEnv) any {
	t.Helper()
	e, err := expr.Parse(src)
	require.NoError(t, err)
	v, err := e.Eval(env)
	require.NoError(t, err)
	return v
}

func TestEvalLiterals(t *testing.T) {
	env := expr.MapEnv{}
	assert.Equal(t, float64(42), evalIn(t, "42", env))
	assert.Equal(t, 3.5, evalIn(t, "3.5", env))
	assert.Equal(t, "hi", evalIn(t, "'hi'", env))
	assert.Equal(t, "hi", evalIn(t, `"hi"`, env))
	assert.Equal(t, true, evalIn(t, "true", env))
	assert.Equal(t, false, evalIn(t, "false", env))
	assert.Nil(t, evalIn(t, "null", env))
}

func TestEvalPaths(t *testing.T) {
	env := expr.MapEnv{
		"inputs": map[string]any{
			"user": map[string]any{"email": "a@b.c", "age": float64(30)},
			"tags": []any{"x", "y"},
		},
		"vars": map[string]any{"count": float64(2)},
		"node": map[string]any{
			"a1": map[string]any{"outputs": map[string]any{"id": "ok-1"}},
		},
	}

	assert.Equal(t, "a@b.c", evalIn(t, "inputs.user.email", env))
	assert.Equal(t, "x", evalIn(t, "inputs.tags[0]", env))
	assert.Equal(t, "ok-1", evalIn(t, "node[a1].outputs.id", env))
	assert.Equal(t, "ok-1", evalIn(t, `node["a1"].outputs.id`, env))

	// missing tails resolve to null, not error
	assert.Nil(t, evalIn(t, "inputs.user.missing", env))
	assert.Nil(t, evalIn(t, "inputs.tags[9]", env))
	assert.Nil(t, evalIn(t, "inputs.user.email.deeper", env))
}

func TestEvalUnknownRootErrors(t *testing.T) {
	e, err := expr.Parse("secrets.token")
	require.NoError(t, err)
	_, err = e.Eval(expr.MapEnv{})
	assert.Error(t, err)
}

func TestEvalArithmeticAndComparison(t *testing.T) {
	env := expr.MapEnv{"vars": map[string]any{"n": float64(7)}}

	assert.Equal(t, float64(10), evalIn(t, "vars.n + 3", env))
	assert.Equal(t, float64(1), evalIn(t, "vars.n % 2", env))
	assert.Equal(t, float64(21), evalIn(t, "vars.n * 3", env))
	assert.Equal(t, float64(14), evalIn(t, "2 * vars.n", env))
	assert.Equal(t, true, evalIn(t, "vars.n > 5 && vars.n < 10", env))
	assert.Equal(t, false, evalIn(t, "vars.n == 8", env))
	assert.Equal(t, true, evalIn(t, "vars.n != 8", env))
	assert.Equal(t, "ab", evalIn(t, "'a' + 'b'", env))
	assert.Equal(t, true, evalIn(t, "'abc' < 'abd'", env))
}

func TestEvalPrecedence(t *testing.T) {
	env := expr.MapEnv{}
	assert.Equal(t, float64(7), evalIn(t, "1 + 2 * 3", env))
	assert.Equal(t, float64(9), evalIn(t, "(1 + 2) * 3", env))
	assert.Equal(t, true, evalIn(t, "false || true && true", env))
	assert.Equal(t, true, evalIn(t, "!false", env))
	assert.Equal(t, float64(-3), evalIn(t, "-3", env))
}

func TestEvalShortCircuit(t *testing.T) {
	// right side references an unknown root; short circuit must skip it
	env := expr.MapEnv{"vars": map[string]any{"ok": true}}
	assert.Equal(t, true, evalIn(t, "vars.ok || bogus.ref", env))
	assert.Equal(t, false, evalIn(t, "!vars.ok && bogus.ref", env))
}

func TestEvalBuiltins(t *testing.T) {
	env := expr.MapEnv{
		"vars": map[string]any{
			"items": []any{float64(1), float64(2)},
			"name":  "weave",
			"none":  nil,
		},
	}
	assert.Equal(t, float64(2), evalIn(t, "len(vars.items)", env))
	assert.Equal(t, float64(5), evalIn(t, "len(vars.name)", env))
	assert.Equal(t, float64(0), evalIn(t, "len(vars.none)", env))
	assert.Equal(t, true, evalIn(t, "is_null(vars.none)", env))
	assert.Equal(t, false, evalIn(t, "is_null(vars.name)", env))
	assert.Equal(t, true, evalIn(t, "contains(vars.name, 'eav')", env))
	assert.Equal(t, true, evalIn(t, "contains(vars.items, 2)", env))
	assert.Equal(t, false, evalIn(t, "contains(vars.items, 3)", env))
}

func TestEvalBoolTruthiness(t *testing.T) {
	cases := []struct {
		src  string
		env  expr.MapEnv
		want bool
	}{
		{"vars.x", expr.MapEnv{"vars": map[string]any{"x": nil}}, false},
		{"vars.x", expr.MapEnv{"vars": map[string]any{"x": float64(0)}}, false},
		{"vars.x", expr.MapEnv{"vars": map[string]any{"x": ""}}, false},
		{"vars.x", expr.MapEnv{"vars": map[string]any{"x": []any{}}}, false},
		{"vars.x", expr.MapEnv{"vars": map[string]any{"x": map[string]any{}}}, false},
		{"vars.x", expr.MapEnv{"vars": map[string]any{"x": float64(1)}}, true},
		{"vars.x", expr.MapEnv{"vars": map[string]any{"x": "a"}}, true},
		{"vars.x", expr.MapEnv{"vars": map[string]any{"x": []any{nil}}}, true},
	}
	for _, tc := range cases {
		e, err := expr.Parse(tc.src)
		require.NoError(t, err)
		got, err := e.EvalBool(tc.env)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "env %v", tc.env)
	}
}

func TestEvalErrors(t *testing.T) {
	env := expr.MapEnv{"vars": map[string]any{"s": "x", "n": float64(1)}}

	for _, src := range []string{
		"1 / 0",
		"5 % 0",
		"vars.s - 1",
		"vars.s < 1",
		"-vars.s",
		"contains(vars.n, 1)",
	} {
		e, err := expr.Parse(src)
		require.NoError(t, err, src)
		_, err = e.Eval(env)
		assert.Error(t, err, src)
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"1 +",
		"(1 + 2",
		"vars.",
		"vars[",
		"'unterminated",
		"len(1, 2)",
		"contains(1)",
		"1 @ 2",
	} {
		_, err := expr.Parse(src)
		assert.Error(t, err, src)
	}
}

func TestRoots(t *testing.T) {
	e, err := expr.Parse("inputs.a > 0 && len(vars.items) == 2 || node[a1].outputs.x")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"inputs", "vars", "node"}, e.Roots())
}
