package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/expr"
	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/profile"
	"github.com/kadirpekel/conclave/state"
)

func TestBuildOrdersSegmentsByOrderThenID(t *testing.T) {
	prof := &profile.Effective{
		SystemPromptConstruction: profile.SystemPromptConstruction{
			SystemPromptSegments: []profile.Segment{
				{ID: "b", Type: profile.SegmentStaticText, Order: 1, Content: "second"},
				{ID: "a", Type: profile.SegmentStaticText, Order: 1, Content: "first"},
				{ID: "c", Type: profile.SegmentStaticText, Order: 0, Content: "zero"},
			},
		},
	}
	a := NewAssembler(expr.New(), nil, nil)
	inbox := []InboxItem{}
	msgs, err := a.Build(prof, state.Absent, nil, nil, &inbox, profile.ToolAccessPolicy{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "zero\n\nfirst\n\nsecond", msgs[0].Content)
}

func TestBuildSkipsFalseyCondition(t *testing.T) {
	prof := &profile.Effective{
		SystemPromptConstruction: profile.SystemPromptConstruction{
			SystemPromptSegments: []profile.Segment{
				{ID: "gated", Type: profile.SegmentStaticText, Content: "hidden", Condition: "v['state.flags.show']"},
			},
		},
	}
	a := NewAssembler(expr.New(), nil, nil)
	inbox := []InboxItem{}
	msgs, err := a.Build(prof, state.Absent, nil, nil, &inbox, profile.ToolAccessPolicy{})
	require.NoError(t, err)
	assert.Equal(t, "", msgs[0].Content)
}

func TestBuildConsumesOnReadInboxItems(t *testing.T) {
	a := NewAssembler(expr.New(), nil, nil)
	inbox := []InboxItem{
		{Source: "observer", Payload: state.String("reflect"), IngestorID: "text", Policy: ConsumeOnRead},
		{Source: "replan", Payload: state.String("keep"), IngestorID: "text", Policy: Persistent},
	}
	msgs, err := a.Build(&profile.Effective{}, state.Absent, nil, []llm.Message{{Role: "assistant", Content: "prior"}}, &inbox, profile.ToolAccessPolicy{})
	require.NoError(t, err)

	require.Len(t, msgs, 4) // system + prior + 2 inbox renders
	assert.Equal(t, "reflect", msgs[2].Content)
	assert.Equal(t, "keep", msgs[3].Content)
	require.Len(t, inbox, 1)
	assert.Equal(t, "keep", inbox[0].Payload.Str)
}

func TestBuildRendersStateValueSegmentViaIngestor(t *testing.T) {
	prof := &profile.Effective{
		SystemPromptConstruction: profile.SystemPromptConstruction{
			SystemPromptSegments: []profile.Segment{
				{ID: "modules", Type: profile.SegmentStateValue, SourceStatePath: "team.work_modules.names", IngestorID: "bullet_list"},
			},
		},
	}
	view := state.Map(map[string]state.Value{
		"team": state.Map(map[string]state.Value{
			"work_modules": state.Map(map[string]state.Value{
				"names": state.List(state.String("a"), state.String("b")),
			}),
		}),
	})
	a := NewAssembler(expr.New(), nil, nil)
	inbox := []InboxItem{}
	msgs, err := a.Build(prof, view, nil, nil, &inbox, profile.ToolAccessPolicy{})
	require.NoError(t, err)
	assert.Equal(t, "- a\n- b", msgs[0].Content)
}
