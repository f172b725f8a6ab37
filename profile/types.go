// Package profile loads agent-profile definitions from disk and resolves
// base_profile inheritance chains into concrete effective profiles, per the
// engine's declarative agent-profile model.
package profile

// AgentType distinguishes the Principal planning role from Associate
// worker roles.
type AgentType string

const (
	TypePrincipal AgentType = "principal"
	TypeAssociate AgentType = "associate"
)

// ActionKind is the closed set of action kinds usable by observers and
// flow-decider rules. Implementations match on Kind rather than performing
// any runtime method lookup, per the engine's design notes.
type ActionKind string

const (
	ActionAddToInbox        ActionKind = "add_to_inbox"
	ActionUpdateState       ActionKind = "update_state"
	ActionEndAgentTurn      ActionKind = "end_agent_turn"
	ActionContinueWithTool  ActionKind = "continue_with_tool"
	ActionLoopWithInboxItem ActionKind = "loop_with_inbox_item"
)

// StateOp is one state mutation op within an update_state action.
type StateOp string

const (
	StateOpSet       StateOp = "set"
	StateOpIncrement StateOp = "increment"
	StateOpAppend    StateOp = "append"
)

// StateUpdate is one entry of an update_state action's updates list.
type StateUpdate struct {
	Op    StateOp `yaml:"op"`
	Path  string  `yaml:"path"`
	Value any     `yaml:"value"`
}

// Action is the tagged payload of an observer or flow-decider rule. Only
// the fields relevant to Kind are populated.
type Action struct {
	Kind ActionKind `yaml:"kind"`

	// add_to_inbox
	Target string `yaml:"target,omitempty"`
	Item   string `yaml:"item,omitempty"`

	// update_state
	Updates []StateUpdate `yaml:"updates,omitempty"`

	// end_agent_turn
	Outcome      string `yaml:"outcome,omitempty"`
	ErrorMessage string `yaml:"error_message,omitempty"`

	// loop_with_inbox_item
	ContentKey string `yaml:"content_key,omitempty"`
}

// Rule pairs a condition expression with the action to take when it
// evaluates truthy. Observers (pre/post-turn) and the flow decider both
// evaluate a list of Rules in order: observers fire every matching rule,
// while the flow decider fires only the first match.
type Rule struct {
	ID        string `yaml:"id,omitempty"`
	Condition string `yaml:"condition"`
	Action    Action `yaml:"action"`
}

// SegmentType is the closed set of system-prompt segment kinds.
type SegmentType string

const (
	SegmentStaticText             SegmentType = "static_text"
	SegmentStateValue             SegmentType = "state_value"
	SegmentToolDescription        SegmentType = "tool_description"
	SegmentToolContributedContext SegmentType = "tool_contributed_context"
)

// Segment is one entry of a profile's system_prompt_segments list.
type Segment struct {
	ID              string      `yaml:"id"`
	Type            SegmentType `yaml:"type"`
	Order           int         `yaml:"order"`
	Content         string      `yaml:"content,omitempty"`
	SourceStatePath string      `yaml:"source_state_path,omitempty"`
	IngestorID      string      `yaml:"ingestor_id,omitempty"`
	Title           string      `yaml:"title,omitempty"`
	Condition       string      `yaml:"condition,omitempty"`
}

// ToolAccessPolicy gates which tools are prompt-visible and callable for a
// profile.
type ToolAccessPolicy struct {
	AllowedToolsets        []string `yaml:"allowed_toolsets,omitempty"`
	AllowedIndividualTools []string `yaml:"allowed_individual_tools,omitempty"`
}

// SystemPromptConstruction wraps the ordered segment list.
type SystemPromptConstruction struct {
	SystemPromptSegments []Segment `yaml:"system_prompt_segments,omitempty"`
}

// Raw is a profile document exactly as loaded from disk, before
// base_profile resolution. Unknown top-level keys are preserved in Extra
// for forward compatibility.
type Raw struct {
	Name                     string                   `yaml:"name"`
	Type                     AgentType                `yaml:"type"`
	BaseProfile              string                   `yaml:"base_profile,omitempty"`
	LLMConfigRef             string                   `yaml:"llm_config_ref,omitempty"`
	ToolAccessPolicy         ToolAccessPolicy         `yaml:"tool_access_policy,omitempty"`
	SystemPromptConstruction SystemPromptConstruction `yaml:"system_prompt_construction,omitempty"`
	TextDefinitions          map[string]string        `yaml:"text_definitions,omitempty"`
	PreTurnObservers         []Rule                   `yaml:"pre_turn_observers,omitempty"`
	PostTurnObservers        []Rule                   `yaml:"post_turn_observers,omitempty"`
	FlowDecider              []Rule                   `yaml:"flow_decider,omitempty"`
	Metadata                 map[string]string        `yaml:"metadata,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// Effective is the fully resolved profile produced by walking a
// base_profile chain: segments, observers, text definitions, and toolset
// grants merged child-wins-by-id, with flow_decider and textual fields
// overridden wholesale by the most specific profile that declares them.
type Effective struct {
	Name                     string
	Type                     AgentType
	LLMConfigRef             string
	ToolAccessPolicy         ToolAccessPolicy
	SystemPromptConstruction SystemPromptConstruction
	TextDefinitions          map[string]string
	PreTurnObservers         []Rule
	PostTurnObservers        []Rule
	FlowDecider              []Rule
	Metadata                 map[string]string
}
