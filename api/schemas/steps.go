// File: api/schemas/steps.go
package schemas

import "fmt"

// ActionType is the closed set of actions a test step may perform.
// The runner dispatches on this enum through an explicit handler table,
// so an unknown action is a validation error, not a runtime surprise.
type ActionType string

const (
	ActionNavigate        ActionType = "navigate"
	ActionClick           ActionType = "click"
	ActionTypeText        ActionType = "type"
	ActionWaitForSelector ActionType = "wait_for_selector"
	ActionWaitForNetwork  ActionType = "wait_for_network_idle"
	ActionWait            ActionType = "wait"
	ActionExtract         ActionType = "extract"
	ActionAssert          ActionType = "assert"
)

// knownActions is the authoritative registry used by ParseAction and the loader.
var knownActions = map[ActionType]struct{}{
	ActionNavigate:        {},
	ActionClick:           {},
	ActionTypeText:        {},
	ActionWaitForSelector: {},
	ActionWaitForNetwork:  {},
	ActionWait:            {},
	ActionExtract:         {},
	ActionAssert:          {},
}

// ParseAction validates a raw action name against the closed enum.
func ParseAction(raw string) (ActionType, error) {
	a := ActionType(raw)
	if _, ok := knownActions[a]; !ok {
		return "", fmt.Errorf("unknown action type %q", raw)
	}
	return a, nil
}

// RequiresSelector reports whether the action operates on a page element
// and therefore participates in selector healing.
func (a ActionType) RequiresSelector() bool {
	switch a {
	case ActionClick, ActionTypeText, ActionWaitForSelector, ActionExtract:
		return true
	}
	return false
}

// PageDependent reports whether the action's outcome depends on the browser
// being on the expected page. The runner prechecks the current URL before
// executing these.
func (a ActionType) PageDependent() bool {
	switch a {
	case ActionClick, ActionTypeText, ActionExtract, ActionAssert, ActionWaitForSelector:
		return true
	}
	return false
}

// TestStep is one declared unit of work in a test specification. Steps are
// immutable once loaded; the runner never mutates them.
//
// Then/Else hold conditional child branches: when When is non-empty it is
// evaluated against the run variables and exactly one branch executes,
// depth-first. Steps without When ignore both lists.
type TestStep struct {
	Name              string            `json:"name,omitempty" yaml:"name,omitempty"`
	Action            ActionType        `json:"action" yaml:"action"`
	Selector          string            `json:"selector,omitempty" yaml:"selector,omitempty"`
	Params            map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	TimeoutMs         int               `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	RetryCount        int               `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	RetryDelayMs      int               `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms,omitempty"`
	SkipIf            string            `json:"skip_if,omitempty" yaml:"skip_if,omitempty"`
	ContinueOnFailure bool              `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`

	When string     `json:"when,omitempty" yaml:"when,omitempty"`
	Then []TestStep `json:"then,omitempty" yaml:"then,omitempty"`
	Else []TestStep `json:"else,omitempty" yaml:"else,omitempty"`
}

// Param returns a step parameter or the empty string.
func (s *TestStep) Param(key string) string {
	if s.Params == nil {
		return ""
	}
	return s.Params[key]
}
