// Package prompt assembles the ordered chat-message list sent to the LLM
// client for one turn: the system message built from a profile's sorted
// segment list, the flow's running message history, and any inbox items
// consumed on read.
package prompt

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/kadirpekel/conclave/state"
)

// Ingestor projects a state.Value into the text form injected into the
// system prompt or an inbox-derived synthetic message.
type Ingestor func(v state.Value) string

// IngestorRegistry resolves an ingestor id to its rendering function. A few
// general-purpose ingestors are registered by default; profiles name
// additional ones by id and callers register them with Register before the
// first Build call that references them.
type IngestorRegistry struct {
	fns map[string]Ingestor
}

// NewIngestorRegistry returns a registry seeded with the default ingestors:
// "text" (the value's plain text form), "json" (compact JSON of the
// value's native form) and "bullet_list" (one "- " line per list item).
func NewIngestorRegistry() *IngestorRegistry {
	r := &IngestorRegistry{fns: map[string]Ingestor{}}
	r.Register("text", func(v state.Value) string { return v.Text() })
	r.Register("json", func(v state.Value) string {
		b, err := json.Marshal(v.Native())
		if err != nil {
			return ""
		}
		return string(b)
	})
	r.Register("bullet_list", func(v state.Value) string {
		if v.Kind != state.KindList {
			return v.Text()
		}
		lines := make([]string, len(v.List))
		for i, item := range v.List {
			lines[i] = "- " + item.Text()
		}
		return strings.Join(lines, "\n")
	})
	return r
}

// Register adds or overrides the ingestor for id.
func (r *IngestorRegistry) Register(id string, fn Ingestor) {
	r.fns[id] = fn
}

// Render resolves id and applies it to v. An unknown id falls back to the
// "text" ingestor rather than failing the whole prompt assembly.
func (r *IngestorRegistry) Render(id string, v state.Value) string {
	fn, ok := r.fns[id]
	if !ok {
		fn = r.fns["text"]
	}
	return fn(v)
}

// ConsumptionPolicy governs whether an inbox item is removed from the inbox
// after one render.
type ConsumptionPolicy string

const (
	ConsumeOnRead ConsumptionPolicy = "consume_on_read"
	Persistent    ConsumptionPolicy = "persistent"
)

// InboxItem is one entry of a flow's inbox queue: content destined to be
// rendered into a synthetic message on the next prompt assembly.
type InboxItem struct {
	Source     string
	Payload    state.Value
	IngestorID string
	Policy     ConsumptionPolicy
}

// stableSortByOrder sorts items in place by ascending order, breaking ties
// by id; used by Assembler.Build.
func stableSortByOrder[T any](items []T, order func(T) int, id func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		oi, oj := order(items[i]), order(items[j])
		if oi != oj {
			return oi < oj
		}
		return id(items[i]) < id(items[j])
	})
}
