// File: internal/runner/context.go
package runner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stitchqa/stitch/internal/browser"
	"github.com/stitchqa/stitch/internal/history"
)

// ExecutionContext is the per-run mutable state: the expected URL set by the
// last navigate step, the interpolated variables, the run's browser handle
// and the shared history store. Owned by the StepExecutor for one run; steps
// within a run execute strictly sequentially, so no locking is needed here.
type ExecutionContext struct {
	RunID       string
	Browser     browser.Capability
	History     history.Store
	ExpectedURL string

	vars map[string]string
}

// NewExecutionContext seeds a context with initial variables.
func NewExecutionContext(runID string, cap browser.Capability, store history.Store, vars map[string]string) *ExecutionContext {
	ec := &ExecutionContext{
		RunID:   runID,
		Browser: cap,
		History: store,
		vars:    make(map[string]string, len(vars)),
	}
	for k, v := range vars {
		ec.vars[k] = v
	}
	return ec
}

// Var returns a run variable.
func (ec *ExecutionContext) Var(name string) (string, bool) {
	v, ok := ec.vars[name]
	return v, ok
}

// SetVar binds a run variable; extract steps use this.
func (ec *ExecutionContext) SetVar(name, value string) {
	ec.vars[name] = value
}

var varRefRe = regexp.MustCompile(`\$\{([A-Za-z_][\w]*)\}`)

// Interpolate replaces ${name} references with variable values. Unknown
// references are left verbatim so the failure is visible in logs.
func (ec *ExecutionContext) Interpolate(s string) string {
	return varRefRe.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := ec.vars[name]; ok {
			return v
		}
		return m
	})
}

// EvalCondition evaluates the small boolean expression language used by
// skip_if and when:
//
//	flag            true when the variable is set and truthy
//	!flag           negation
//	a == b, a != b  operands are variables when bound, literals otherwise;
//	                single or double quotes force a literal
//
// ${name} interpolation is applied before evaluation.
func (ec *ExecutionContext) EvalCondition(expr string) (bool, error) {
	expr = strings.TrimSpace(ec.Interpolate(expr))
	if expr == "" {
		return false, nil
	}

	if rest, ok := strings.CutPrefix(expr, "!"); ok && !strings.ContainsAny(rest, "=") {
		v, err := ec.EvalCondition(rest)
		return !v, err
	}

	for _, op := range []string{"==", "!="} {
		if left, right, ok := strings.Cut(expr, op); ok {
			lv := ec.operand(left)
			rv := ec.operand(right)
			if op == "==" {
				return lv == rv, nil
			}
			return lv != rv, nil
		}
	}

	if strings.ContainsAny(expr, " \t") {
		return false, fmt.Errorf("unsupported condition expression %q", expr)
	}
	// Bare flag: unbound variables are simply false.
	v, ok := ec.vars[expr]
	return ok && truthy(v), nil
}

// operand resolves one side of a comparison: quoted strings are literals,
// bound variable names resolve to their value, anything else is a literal.
func (ec *ExecutionContext) operand(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return ec.operandValue(s)
}

func (ec *ExecutionContext) operandValue(name string) string {
	if v, ok := ec.vars[name]; ok {
		return v
	}
	return name
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "no":
		return false
	}
	return true
}
