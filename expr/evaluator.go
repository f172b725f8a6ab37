// Package expr evaluates the declarative condition strings and templated
// payloads that profiles embed in observers, flow-decider rules, and
// system-prompt segments, using github.com/expr-lang/expr as the
// underlying expression language.
//
// Conditions use the profile-facing subscript syntax `v['state.flags.x']`.
// Internally, every `v['path']`/`v["path"]` occurrence is rewritten to a
// call against a resolver function before compilation, so that an absent
// path degrades to the Go zero value `false` rather than `nil` — expr-lang's
// native map-index op would otherwise push a bare `nil`, which its `!`,
// `&&`, and `||` operators reject at runtime. The rewrite keeps the
// evaluator pure: same (expression, view) always yields the same result,
// and no runtime lookup ever raises.
package expr

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/kadirpekel/conclave/state"
)

// EvaluatorError is returned only for syntactically malformed expressions.
// Runtime lookups never produce it: absent paths degrade to falsey/empty.
type EvaluatorError struct {
	Expression string
	Err        error
}

func (e *EvaluatorError) Error() string {
	return fmt.Sprintf("expr: malformed expression %q: %v", e.Expression, e.Err)
}

func (e *EvaluatorError) Unwrap() error { return e.Err }

var subscriptPattern = regexp.MustCompile(`v\[\s*(['"])((?:\\.|[^'"\\])*)\1\s*\]`)

func rewrite(expression string) string {
	return subscriptPattern.ReplaceAllString(expression, `vget("$2")`)
}

// env is the expr-lang environment shared by every compiled program: a
// single function, vget, resolving a dot-path against the Value passed at
// Eval time. expr-lang compiles against a static env shape, so the view
// itself is threaded through the vget closure built for each evaluation.
func env(view state.Value) map[string]any {
	return map[string]any{
		"vget": func(path string) any {
			v := state.Resolve(view, path)
			if v.IsAbsent() {
				return false
			}
			return v.Native()
		},
	}
}

// Evaluator compiles and caches expr-lang programs by source text so that
// repeated evaluation of the same profile rule across many turns does not
// re-parse it every time.
type Evaluator struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

// New returns an Evaluator with an empty program cache.
func New() *Evaluator {
	return &Evaluator{programs: map[string]*vm.Program{}}
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.Lock()
	if p, ok := e.programs[expression]; ok {
		e.mu.Unlock()
		return p, nil
	}
	e.mu.Unlock()

	rewritten := rewrite(expression)
	program, err := expr.Compile(rewritten, expr.Env(map[string]any{"vget": func(string) any { return nil }}))
	if err != nil {
		return nil, &EvaluatorError{Expression: expression, Err: err}
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()
	return program, nil
}

// EvaluateCondition evaluates a condition expression against a read-only
// state view and returns its truthiness. A catch-all condition of the
// literal string "True" always returns true without compilation overhead,
// letting a flow_decider rule list end with an unconditional default.
func (e *Evaluator) EvaluateCondition(expression string, view state.Value) (bool, error) {
	if strings.TrimSpace(expression) == "True" {
		return true, nil
	}
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env(view))
	if err != nil {
		// A runtime error here means a non-syntax failure (e.g. type
		// mismatch in a comparison); treat as malformed per the
		// evaluator's "only fails on malformed syntax" contract by
		// wrapping it the same way, since expr-lang defers some type
		// checks to run time for dynamic envs.
		return false, &EvaluatorError{Expression: expression, Err: err}
	}
	return toBool(out), nil
}

func toBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// RenderTemplate substitutes every `{{ path.to.value }}` occurrence in tmpl
// with the string form of the resolved value, or the empty string if the
// path is absent. Unlike conditions, templates are not expr-lang programs:
// they are a restricted substitution grammar over the same state paths.
func (e *Evaluator) RenderTemplate(tmpl string, view state.Value) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	var out strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return "", &EvaluatorError{Expression: tmpl, Err: fmt.Errorf("unterminated {{ at offset %d", len(tmpl)-len(rest)+start)}
		}
		out.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+2 : start+end])
		out.WriteString(state.Resolve(view, path).Text())
		rest = rest[start+end+2:]
	}
	return out.String(), nil
}
