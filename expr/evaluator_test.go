package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/state"
)

func view() state.Value {
	tr := state.New()
	_ = tr.Update([]state.Op{
		{Kind: state.OpSet, Path: "state.flags.consecutive_no_tool_call_count", Value: state.Number(3)},
		{Kind: state.OpSet, Path: "state.ready", Value: state.Bool(true)},
		{Kind: state.OpSet, Path: "team.shared_context.topic", Value: state.String("rust")},
	})
	return tr.View()
}

func TestEvaluateConditionComparison(t *testing.T) {
	e := New()
	ok, err := e.EvaluateCondition("v['state.flags.consecutive_no_tool_call_count'] >= 3", view())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateConditionAbsentDegradesFalsey(t *testing.T) {
	e := New()
	ok, err := e.EvaluateCondition("!v['state.flags.nonexistent']", view())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateCondition("v['state.flags.nonexistent']", view())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateConditionBoolAndOr(t *testing.T) {
	e := New()
	ok, err := e.EvaluateCondition("v['state.ready'] and v['team.shared_context.topic'] == 'rust'", view())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateConditionCatchAll(t *testing.T) {
	e := New()
	ok, err := e.EvaluateCondition("True", view())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateConditionMalformedErrors(t *testing.T) {
	e := New()
	_, err := e.EvaluateCondition("v['x'] &&& true", view())
	require.Error(t, err)
	var evalErr *EvaluatorError
	assert.ErrorAs(t, err, &evalErr)
}

func TestEvaluateConditionIsPure(t *testing.T) {
	e := New()
	v := view()
	r1, err1 := e.EvaluateCondition("v['state.flags.consecutive_no_tool_call_count'] >= 3", v)
	r2, err2 := e.EvaluateCondition("v['state.flags.consecutive_no_tool_call_count'] >= 3", v)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, r1, r2)
}

func TestRenderTemplate(t *testing.T) {
	e := New()
	out, err := e.RenderTemplate("Topic: {{ team.shared_context.topic }}, missing: [{{ team.shared_context.nope }}]", view())
	require.NoError(t, err)
	assert.Equal(t, "Topic: rust, missing: []", out)
}

func TestRenderTemplateNoInterpolation(t *testing.T) {
	e := New()
	out, err := e.RenderTemplate("plain text", view())
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}
