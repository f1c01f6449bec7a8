package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() map[string]interface{} {
	return map[string]interface{}{
		"count":  3,
		"name":   "report",
		"tags":   []string{"urgent", "email"},
		"scores": []interface{}{0.5, 1.5, 2},
		"user": map[string]interface{}{
			"role":  "admin",
			"langs": []interface{}{"go", "sql"},
		},
		"results": map[string]interface{}{
			"fetch": map[string]interface{}{"status": "ok", "items": []interface{}{1, 2, 3}},
			"parse": map[string]interface{}{"error": "bad input"},
		},
		"done": false,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"count == 3", true},
		{"count != 3", false},
		{"count > 2 and count < 4", true},
		{"count >= 4 || name == 'report'", true},
		{"not done", true},
		{"!done && true", true},
		{`name == "report"`, true},
		{"'urgent' in tags", true},
		{"'spam' in tags", false},
		{"'spam' not in tags", true},
		{"'rep' in name", true},
		{"'role' in user", true},
		{"user.role == 'admin'", true},
		{"user['role'] == 'admin'", true},
		{"user.langs[0] == 'go'", true},
		{"user.langs[-1] == 'sql'", true},
		{"results.fetch.status == 'ok'", true},
		{"len(results.fetch.items) == 3", true},
		{"results.parse.error != null", true},
		{"results.missing.status == null", true},
		{"missing > 3", false},
		{"sum(scores) == 4", true},
		{"any([false, 0, 'x'])", true},
		{"all([true, 1, ''])", false},
		{"min(scores) == 0.5", true},
		{"max(1, 7, 3) == 7", true},
		{"count * 2 + 1 == 7", true},
		{"(count - 1) / 2 == 1", true},
		{"-count < 0", true},
		{"[1, 2] == [1, 2]", true},
		{"len(name + 's') == 7", true},
		{"len(tags + ['x']) == 3", true},
		{"len(missing) == 0", true},
		{"count", true},
		{"''", false},
	}

	ev := NewEvaluator()
	env := testEnv()

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ev.Evaluate(tt.expr, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", "  "},
		{"unknown function", "exec('rm -rf /')"},
		{"import-like", "__import__('os')"},
		{"dangling operator", "count >"},
		{"unbalanced paren", "(count > 1"},
		{"unterminated string", "name == 'abc"},
		{"bad character", "count ; 1"},
		{"trailing tokens", "count 1"},
		{"attribute call", "name.upper()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.expr)
			assert.Error(t, err)
		})
	}

	_, err := Compile("eval('1')")
	assert.ErrorIs(t, err, ErrUnknownFunction)
}

func TestRuntimeErrors(t *testing.T) {
	env := testEnv()

	for _, expr := range []string{
		"name > 3",
		"count / 0 == 1",
		"sum(name) == 0",
		"min([]) == 0",
		"-name == 1",
	} {
		t.Run(expr, func(t *testing.T) {
			p, err := Compile(expr)
			require.NoError(t, err)
			_, err = p.EvalBool(env)
			assert.Error(t, err)
		})
	}
}

func TestEvaluatorCachesPrograms(t *testing.T) {
	ev := NewEvaluator()

	p1, err := ev.Compile("count > 1")
	require.NoError(t, err)
	p2, err := ev.Compile("count > 1")
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, "count > 1", p1.String())
}

func TestProgramEvalValue(t *testing.T) {
	p, err := Compile("results.fetch.items[1] + 40")
	require.NoError(t, err)

	v, err := p.Eval(testEnv())
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestShortCircuit(t *testing.T) {
	env := map[string]interface{}{"x": 0}

	ok, err := NewEvaluator().Evaluate("x != 0 and 10 / x > 1", env)
	require.NoError(t, err)
	assert.False(t, ok)
}
