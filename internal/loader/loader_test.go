// File: internal/loader/loader_test.go
package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchqa/stitch/api/schemas"
)

const validSpec = `
name: login flow
vars:
  user: ada@example.com
steps:
  - action: navigate
    params:
      url: https://app.example.com/login
  - name: enter email
    action: type
    selector: "#email"
    params:
      text: ${user}
  - action: click
    selector: "#login-btn"
    description: Sign in
    retry_count: 2
    retry_delay_ms: 500
  - when: env == "prod"
    then:
      - action: wait_for_network_idle
    else:
      - action: wait
        params:
          ms: "250"
`

func TestParse_ValidSpec(t *testing.T) {
	spec, err := Parse([]byte(validSpec))
	require.NoError(t, err)

	assert.Equal(t, "login flow", spec.Name)
	assert.Equal(t, "ada@example.com", spec.Vars["user"])
	require.Len(t, spec.Steps, 4)

	assert.Equal(t, schemas.ActionNavigate, spec.Steps[0].Action)
	assert.Equal(t, "https://app.example.com/login", spec.Steps[0].Param("url"))

	typeStep := spec.Steps[1]
	assert.Equal(t, schemas.ActionTypeText, typeStep.Action)
	assert.Equal(t, "#email", typeStep.Selector)
	assert.Equal(t, "${user}", typeStep.Param("text"))

	click := spec.Steps[2]
	assert.Equal(t, 2, click.RetryCount)
	assert.Equal(t, 500, click.RetryDelayMs)
	assert.Equal(t, "Sign in", click.Description)

	branch := spec.Steps[3]
	assert.Equal(t, `env == "prod"`, branch.When)
	require.Len(t, branch.Then, 1)
	require.Len(t, branch.Else, 1)
	assert.Equal(t, schemas.ActionWait, branch.Else[0].Action)
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"invalid yaml",
			"steps: [",
			"parsing yaml",
		},
		{
			"no steps",
			"name: empty",
			"no steps",
		},
		{
			"unknown action",
			"steps:\n  - action: hover\n    selector: \"#x\"",
			`unknown action type "hover"`,
		},
		{
			"click without selector",
			"steps:\n  - action: click",
			"requires a selector",
		},
		{
			"navigate without url",
			"steps:\n  - action: navigate",
			"requires a url param",
		},
		{
			"wait without ms",
			"steps:\n  - action: wait",
			"requires an ms param",
		},
		{
			"negative retry_count",
			"steps:\n  - action: click\n    selector: \"#x\"\n    retry_count: -1",
			"retry_count cannot be negative",
		},
		{
			"branch with action",
			"steps:\n  - when: mobile\n    action: click\n    selector: \"#x\"\n    then:\n      - action: wait\n        params: {ms: \"1\"}",
			"cannot also have an action",
		},
		{
			"branch without then or else",
			"steps:\n  - when: mobile",
			"needs a then or else",
		},
		{
			"then without when",
			"steps:\n  - action: click\n    selector: \"#x\"\n    then:\n      - action: wait\n        params: {ms: \"1\"}",
			"require a when expression",
		},
		{
			"invalid nested branch step",
			"steps:\n  - when: mobile\n    then:\n      - action: click",
			"steps[0].then.steps[0]",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParse_DefaultsNameWhenMissing(t *testing.T) {
	spec, err := Parse([]byte("steps:\n  - action: wait\n    params: {ms: \"1\"}"))
	require.NoError(t, err)
	assert.Equal(t, "unnamed test", spec.Name)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "login.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSpec), 0o644))

	spec, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "login flow", spec.Name)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "reading test spec")
}
