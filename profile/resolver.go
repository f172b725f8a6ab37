package profile

import (
	"fmt"
	"sort"
	"sync"
)

// ProfileCycleError is returned when a base_profile chain loops back on
// itself.
type ProfileCycleError struct {
	Chain []string
}

func (e *ProfileCycleError) Error() string {
	return fmt.Sprintf("profile: cycle detected in base_profile chain: %v", e.Chain)
}

// Resolver resolves base_profile inheritance chains into effective
// profiles, memoizing each result per name. Safe for concurrent use: the
// dispatch subsystem resolves Associate profiles from multiple goroutines
// against the one Resolver a run shares.
type Resolver struct {
	mu      sync.Mutex
	table   map[string]Raw
	cache   map[string]*Effective
	pending map[string]bool
}

// NewResolver builds a Resolver over a raw profile table, as produced by
// LoadAll.
func NewResolver(table map[string]Raw) *Resolver {
	return &Resolver{
		table:   table,
		cache:   map[string]*Effective{},
		pending: map[string]bool{},
	}
}

// Resolve walks name's base_profile chain and returns its effective
// profile. Resolution is memoized: calling Resolve(name) twice returns the
// same (idempotent) Effective value without re-walking the chain.
func (r *Resolver) Resolve(name string) (*Effective, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eff, ok := r.cache[name]; ok {
		return eff, nil
	}
	if r.pending[name] {
		return nil, &ProfileCycleError{Chain: []string{name}}
	}

	raw, ok := r.table[name]
	if !ok {
		return nil, &ProfileNotFoundError{Name: name}
	}

	r.pending[name] = true
	defer delete(r.pending, name)

	var base *Effective
	if raw.BaseProfile != "" {
		b, err := r.resolveChecked(raw.BaseProfile, map[string]bool{name: true})
		if err != nil {
			return nil, err
		}
		base = b
	}

	eff := merge(base, raw)
	r.cache[name] = eff
	return eff, nil
}

// Table returns a copy of the resolver's current raw profile table, e.g.
// for handing to run.Config.Profiles after a Watch-triggered reload.
func (r *Resolver) Table() map[string]Raw {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Raw, len(r.table))
	for k, v := range r.table {
		out[k] = v
	}
	return out
}

// Replace swaps in a freshly loaded raw profile table and drops every
// memoized Effective, so the next Resolve call for any name re-walks its
// base_profile chain against the new definitions. Called by Watch after a
// profile file changes on disk.
func (r *Resolver) Replace(table map[string]Raw) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = table
	r.cache = map[string]*Effective{}
	r.pending = map[string]bool{}
}

// resolveChecked walks the chain while tracking visited names on the
// current path, so a cycle is reported with its full chain rather than a
// bare single-name error.
func (r *Resolver) resolveChecked(name string, visited map[string]bool) (*Effective, error) {
	if eff, ok := r.cache[name]; ok {
		return eff, nil
	}
	if visited[name] {
		chain := make([]string, 0, len(visited)+1)
		for n := range visited {
			chain = append(chain, n)
		}
		sort.Strings(chain)
		chain = append(chain, name)
		return nil, &ProfileCycleError{Chain: chain}
	}
	visited[name] = true

	raw, ok := r.table[name]
	if !ok {
		return nil, &ProfileNotFoundError{Name: name}
	}

	var base *Effective
	if raw.BaseProfile != "" {
		b, err := r.resolveChecked(raw.BaseProfile, visited)
		if err != nil {
			return nil, err
		}
		base = b
	}

	eff := merge(base, raw)
	r.cache[name] = eff
	return eff, nil
}

// merge unions base and raw: segments/observers/rules merge by id with
// child (raw) winning; text definitions and metadata merge by key with
// child winning; allowed toolsets/tools union. Scalars (llm_config_ref,
// type) take the child's value when set, else the parent's.
func merge(base *Effective, raw Raw) *Effective {
	eff := &Effective{
		Name:            raw.Name,
		Type:            raw.Type,
		TextDefinitions: map[string]string{},
		Metadata:        map[string]string{},
	}

	if base != nil {
		eff.LLMConfigRef = base.LLMConfigRef
		eff.ToolAccessPolicy = base.ToolAccessPolicy
		eff.SystemPromptConstruction.SystemPromptSegments = append(
			eff.SystemPromptConstruction.SystemPromptSegments,
			base.SystemPromptConstruction.SystemPromptSegments...)
		eff.PreTurnObservers = append(eff.PreTurnObservers, base.PreTurnObservers...)
		eff.PostTurnObservers = append(eff.PostTurnObservers, base.PostTurnObservers...)
		eff.FlowDecider = append(eff.FlowDecider, base.FlowDecider...)
		for k, v := range base.TextDefinitions {
			eff.TextDefinitions[k] = v
		}
		for k, v := range base.Metadata {
			eff.Metadata[k] = v
		}
		if eff.Type == "" {
			eff.Type = base.Type
		}
	}

	if raw.LLMConfigRef != "" {
		eff.LLMConfigRef = raw.LLMConfigRef
	}

	eff.ToolAccessPolicy.AllowedToolsets = unionStrings(eff.ToolAccessPolicy.AllowedToolsets, raw.ToolAccessPolicy.AllowedToolsets)
	eff.ToolAccessPolicy.AllowedIndividualTools = unionStrings(eff.ToolAccessPolicy.AllowedIndividualTools, raw.ToolAccessPolicy.AllowedIndividualTools)

	eff.SystemPromptConstruction.SystemPromptSegments = mergeSegments(
		eff.SystemPromptConstruction.SystemPromptSegments, raw.SystemPromptConstruction.SystemPromptSegments)
	eff.PreTurnObservers = mergeRules(eff.PreTurnObservers, raw.PreTurnObservers)
	eff.PostTurnObservers = mergeRules(eff.PostTurnObservers, raw.PostTurnObservers)
	// flow_decider is order-sensitive (first match wins), so a child
	// profile that declares any rules replaces the parent's list wholesale
	// rather than merging by id; an empty child list inherits the parent's.
	if len(raw.FlowDecider) > 0 {
		eff.FlowDecider = append([]Rule(nil), raw.FlowDecider...)
	}

	for k, v := range raw.TextDefinitions {
		eff.TextDefinitions[k] = v
	}
	for k, v := range raw.Metadata {
		eff.Metadata[k] = v
	}

	return eff
}

func unionStrings(base, child []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(base)+len(child))
	for _, s := range base {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range child {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func mergeSegments(base, child []Segment) []Segment {
	byID := map[string]int{}
	out := append([]Segment(nil), base...)
	for i, s := range out {
		byID[s.ID] = i
	}
	for _, s := range child {
		if i, ok := byID[s.ID]; ok {
			out[i] = s
		} else {
			byID[s.ID] = len(out)
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func mergeRules(base, child []Rule) []Rule {
	byID := map[string]int{}
	out := append([]Rule(nil), base...)
	for i, r := range out {
		if r.ID != "" {
			byID[r.ID] = i
		}
	}
	for _, r := range child {
		if r.ID != "" {
			if i, ok := byID[r.ID]; ok {
				out[i] = r
				continue
			}
			byID[r.ID] = len(out)
		}
		out = append(out, r)
	}
	return out
}
