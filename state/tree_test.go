package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeSetAndGet(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Update([]Op{
		{Kind: OpSet, Path: "team.shared_context.topic", Value: String("rust ownership")},
	}))
	assert.Equal(t, "rust ownership", tr.Get("team.shared_context.topic").Text())
	assert.True(t, tr.Get("team.shared_context.missing").IsAbsent())
}

func TestTreeAbsentPathNeverPanics(t *testing.T) {
	tr := New()
	assert.True(t, tr.Get("a.b.c.d.e").IsAbsent())
	assert.False(t, tr.Get("a.b.c.d.e").Truthy())
}

func TestTreeIncrement(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Update([]Op{{Kind: OpIncrement, Path: "state.flags.consecutive_no_tool_call_count", Value: Number(1)}}))
	require.NoError(t, tr.Update([]Op{{Kind: OpIncrement, Path: "state.flags.consecutive_no_tool_call_count", Value: Number(1)}}))
	assert.Equal(t, float64(2), tr.Get("state.flags.consecutive_no_tool_call_count").Num)
}

func TestTreeAppend(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Update([]Op{{Kind: OpAppend, Path: "flow.inbox", Value: String("item-1")}}))
	require.NoError(t, tr.Update([]Op{{Kind: OpAppend, Path: "flow.inbox", Value: String("item-2")}}))
	got := tr.Get("flow.inbox")
	require.Equal(t, KindList, got.Kind)
	assert.Equal(t, []string{"item-1", "item-2"}, []string{got.List[0].Text(), got.List[1].Text()})
}

func TestTreeIncrementOnNonNumericIsError(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Update([]Op{{Kind: OpSet, Path: "x", Value: String("not a number")}}))
	err := tr.Update([]Op{{Kind: OpIncrement, Path: "x", Value: Number(1)}})
	assert.Error(t, err)
}

func TestValueTruthy(t *testing.T) {
	assert.False(t, Absent.Truthy())
	assert.False(t, String("").Truthy())
	assert.True(t, String("x").Truthy())
	assert.False(t, Number(0).Truthy())
	assert.True(t, Number(1).Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, List(String("a")).Truthy())
}
