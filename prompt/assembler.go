package prompt

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/conclave/expr"
	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/profile"
	"github.com/kadirpekel/conclave/state"
	"github.com/kadirpekel/conclave/tool"
)

// ToolCatalog is the subset of tool.Registry the assembler needs to render
// the tool_description segment type; satisfied by *tool.Registry and by
// any per-flow scoped wrapper exposing the same visibility rule.
type ToolCatalog interface {
	Visible(allowedToolsets, allowedIndividualTools []string) []tool.Description
}

// Assembler builds the ordered chat-message list for one turn from a
// profile's segment list, the current state view, the flow's running
// messages, and its inbox.
type Assembler struct {
	eval      *expr.Evaluator
	tools     ToolCatalog
	ingestors *IngestorRegistry
}

// NewAssembler returns an Assembler evaluating segment conditions with eval
// and rendering tool_description segments from tools.
func NewAssembler(eval *expr.Evaluator, tools ToolCatalog, ingestors *IngestorRegistry) *Assembler {
	if ingestors == nil {
		ingestors = NewIngestorRegistry()
	}
	return &Assembler{eval: eval, tools: tools, ingestors: ingestors}
}

// Build renders prof's system prompt against view, appends the flow's
// existing messages, then appends one synthetic message per inbox item
// whose policy is ConsumeOnRead, removing those items from inbox. Persistent
// items are rendered too but left in inbox for future turns.
func (a *Assembler) Build(prof *profile.Effective, view state.Value, contributedContext []string, messages []llm.Message, inbox *[]InboxItem, toolPolicy profile.ToolAccessPolicy) ([]llm.Message, error) {
	systemMsg, err := a.renderSystem(prof, view, contributedContext, toolPolicy)
	if err != nil {
		return nil, err
	}

	out := make([]llm.Message, 0, len(messages)+4)
	out = append(out, llm.Message{Role: "system", Content: systemMsg})
	out = append(out, messages...)

	var retained []InboxItem
	for _, item := range *inbox {
		rendered := a.ingestors.Render(item.IngestorID, item.Payload)
		out = append(out, llm.Message{Role: "user", Content: rendered})
		if item.Policy == Persistent {
			retained = append(retained, item)
		}
	}
	*inbox = retained

	return out, nil
}

func (a *Assembler) renderSystem(prof *profile.Effective, view state.Value, contributedContext []string, toolPolicy profile.ToolAccessPolicy) (string, error) {
	ordered := append([]profile.Segment(nil), prof.SystemPromptConstruction.SystemPromptSegments...)
	stableSortByOrder(ordered, func(s profile.Segment) int { return s.Order }, func(s profile.Segment) string { return s.ID })

	var parts []string
	for _, seg := range ordered {
		if seg.Condition != "" {
			ok, err := a.eval.EvaluateCondition(seg.Condition, view)
			if err != nil {
				return "", fmt.Errorf("prompt: segment %q: %w", seg.ID, err)
			}
			if !ok {
				continue
			}
		}

		rendered, err := a.renderSegment(seg, view, contributedContext, toolPolicy)
		if err != nil {
			return "", err
		}
		if rendered == "" {
			continue
		}
		if seg.Title != "" {
			parts = append(parts, seg.Title+"\n"+rendered)
		} else {
			parts = append(parts, rendered)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (a *Assembler) renderSegment(seg profile.Segment, view state.Value, contributedContext []string, toolPolicy profile.ToolAccessPolicy) (string, error) {
	switch seg.Type {
	case profile.SegmentStaticText:
		return a.eval.RenderTemplate(seg.Content, view)

	case profile.SegmentStateValue:
		target := state.Resolve(view, seg.SourceStatePath)
		return a.ingestors.Render(seg.IngestorID, target), nil

	case profile.SegmentToolDescription:
		if a.tools == nil {
			return "", nil
		}
		descs := a.tools.Visible(toolPolicy.AllowedToolsets, toolPolicy.AllowedIndividualTools)
		lines := make([]string, len(descs))
		for i, d := range descs {
			lines[i] = fmt.Sprintf("- %s: %s", d.Name, d.Description)
		}
		return strings.Join(lines, "\n"), nil

	case profile.SegmentToolContributedContext:
		return strings.Join(contributedContext, "\n"), nil

	default:
		return "", fmt.Errorf("prompt: unknown segment type %q", seg.Type)
	}
}
