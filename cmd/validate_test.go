package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetingFlow = `
id: greeting
triggers: "hi, hello"
nodes:
  - id: start
    type: start
  - id: welcome
    type: message
    data:
      content: Welcome!
edges:
  - source: start
    target: welcome
`

const startlessFlow = `
id: orphan
triggers: orphan
nodes:
  - id: welcome
    type: message
`

const brokenFlow = `
id: broken
triggers: broken
nodes:
  - id: start
    type: start
edges:
  - source: start
    target: nowhere
`

func runValidateIn(t *testing.T, files map[string]string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := runValidate(cmd, []string{dir}, "public")
	return out.String(), err
}

func TestValidateAcceptsGoodDefinitions(t *testing.T) {
	out, err := runValidateIn(t, map[string]string{"greeting.yaml": greetingFlow})
	require.NoError(t, err)
	assert.Contains(t, out, "ok  public/greeting (2 nodes")
}

func TestValidateReportsEveryInvalidDefinition(t *testing.T) {
	out, err := runValidateIn(t, map[string]string{
		"a.yaml": greetingFlow,
		"b.yaml": startlessFlow,
		"c.yaml": brokenFlow,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 workflows invalid")
	assert.Contains(t, err.Error(), "orphan")
	assert.Contains(t, err.Error(), "unknown target node")
	assert.Contains(t, out, "ok  public/greeting")
}
