package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tesserahq/tessera/pkg/schema"
)

func TestClassify_Backward(t *testing.T) {
	old := mustDoc(t, customersV1)

	// Removing a property breaks new readers of old data.
	removed := schema.Diff(old, mustDoc(t, `{"type":"object","properties":{"customer_id":{"type":"integer"}},"required":["customer_id"]}`))
	verdict := schema.Classify(removed, schema.CompatBackward)
	assert.False(t, verdict.Compatible)
	require.NotEmpty(t, verdict.BreakingChanges)
	assert.Equal(t, schema.PropertyRemoved, verdict.BreakingChanges[0].Kind)

	// Adding an optional property does not.
	added := schema.Diff(old, mustDoc(t, `{
		"type":"object",
		"properties":{"customer_id":{"type":"integer"},"email":{"type":"string"},"tier":{"type":"string"}},
		"required":["customer_id","email"]
	}`))
	verdict = schema.Classify(added, schema.CompatBackward)
	assert.True(t, verdict.Compatible)
	assert.Empty(t, verdict.BreakingChanges)
}

func TestClassify_ForwardRequiredAddition(t *testing.T) {
	old := mustDoc(t, `{"type":"object","properties":{"a":{"type":"string"}},"required":["a"]}`)

	// A new required property breaks old writers under forward mode.
	newRequired := schema.Diff(old, mustDoc(t, `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"string"}},"required":["a","b"]}`))
	verdict := schema.Classify(newRequired, schema.CompatForward)
	assert.False(t, verdict.Compatible)

	kinds := make([]schema.ChangeKind, 0, len(verdict.BreakingChanges))
	for _, c := range verdict.BreakingChanges {
		kinds = append(kinds, c.Kind)
	}
	assert.Contains(t, kinds, schema.PropertyAdded)

	// A new optional property is fine forward.
	newOptional := schema.Diff(old, mustDoc(t, `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"string"}},"required":["a"]}`))
	verdict = schema.Classify(newOptional, schema.CompatForward)
	assert.True(t, verdict.Compatible)
}

func TestClassify_ForwardEnumWidened(t *testing.T) {
	old := mustDoc(t, `{"type":"object","properties":{"s":{"type":"string","enum":["a","b"]}}}`)
	widened := schema.Diff(old, mustDoc(t, `{"type":"object","properties":{"s":{"type":"string","enum":["a","b","c"]}}}`))

	assert.True(t, schema.Classify(widened, schema.CompatBackward).Compatible)
	assert.False(t, schema.Classify(widened, schema.CompatForward).Compatible)
	assert.False(t, schema.Classify(widened, schema.CompatFull).Compatible)
}

func TestClassify_FullIsUnion(t *testing.T) {
	old := mustDoc(t, customersV1)
	diff := schema.Diff(old, mustDoc(t, `{
		"type":"object",
		"properties":{"customer_id":{"type":"integer"},"tier":{"type":"string","enum":["a"]}},
		"required":["customer_id"]
	}`))

	back := schema.Classify(diff, schema.CompatBackward)
	fwd := schema.Classify(diff, schema.CompatForward)
	full := schema.Classify(diff, schema.CompatFull)

	assert.GreaterOrEqual(t, len(full.BreakingChanges), len(back.BreakingChanges))
	assert.GreaterOrEqual(t, len(full.BreakingChanges), len(fwd.BreakingChanges))
}

func TestClassify_NoneNeverBreaks(t *testing.T) {
	old := mustDoc(t, customersV1)
	diff := schema.Diff(old, mustDoc(t, `{"type":"object","properties":{},"required":[]}`))
	require.NotEmpty(t, diff.Changes)

	verdict := schema.Classify(diff, schema.CompatNone)
	assert.True(t, verdict.Compatible)
	assert.Empty(t, verdict.BreakingChanges)
}

func TestModeFor(t *testing.T) {
	mode, err := schema.ModeFor("")
	require.NoError(t, err)
	assert.Equal(t, schema.CompatBackward, mode)

	_, err = schema.ModeFor("sideways")
	assert.Error(t, err)
}
