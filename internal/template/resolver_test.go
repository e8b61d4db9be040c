package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orchestrator/internal/model"
	"github.com/flowcraft/orchestrator/internal/template"
)

func outputsFixture() model.NodeOutputs {
	return model.NodeOutputs{
		"T": {Label: "Trigger", Data: map[string]any{"name": "world", "x": 20.0}},
		"state": {Label: "State", Data: map[string]any{"k": 3.0}},
		"A": {Label: "My Action", Data: map[string]any{"success": true, "data": "ok"}},
	}
}

func TestResolve_ExactTemplatePreservesType(t *testing.T) {
	out := outputsFixture()
	got := template.Resolve("{{T.x}}", out)
	assert.InDelta(t, 20.0, got, 0.0001)
}

func TestResolve_EmbeddedTemplateStringifies(t *testing.T) {
	out := outputsFixture()
	got := template.Resolve("hello {{T.name}}!", out)
	assert.Equal(t, "hello world!", got)
}

func TestResolve_UnresolvedPreservesOriginal(t *testing.T) {
	out := outputsFixture()
	got := template.Resolve("{{Missing.field}}", out)
	assert.Equal(t, "{{Missing.field}}", got)
}

func TestResolve_LabelFallbackCaseInsensitiveWithSpaces(t *testing.T) {
	out := outputsFixture()
	got := template.Resolve("{{my_action.data}}", out)
	assert.Equal(t, "ok", got)
}

func TestResolve_ReservedStateAliases(t *testing.T) {
	out := outputsFixture()
	assert.InDelta(t, 3.0, template.Resolve("{{state.k}}", out), 0.0001)
	assert.InDelta(t, 3.0, template.Resolve("{{State.k}}", out), 0.0001)
}

func TestResolve_ConnectionsPathNeverResolved(t *testing.T) {
	out := model.NodeOutputs{
		"connections": {Label: "connections", Data: map[string]any{"externalId": "should-not-match"}},
	}
	got := template.Resolve("{{connections['externalId']}}", out)
	assert.Equal(t, "{{connections['externalId']}}", got)
}

func TestResolve_RecursesThroughListsAndMaps(t *testing.T) {
	out := outputsFixture()
	value := map[string]any{
		"items": []any{"{{T.name}}", map[string]any{"x": "{{T.x}}"}},
	}
	got := template.Resolve(value, out)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	items, ok := m["items"].([]any)
	require.True(t, ok)
	assert.Equal(t, "world", items[0])
	nested, ok := items[1].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 20.0, nested["x"], 0.0001)
}
