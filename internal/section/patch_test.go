package section

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBlocks(t *testing.T) {
	text := "Here are my edits:\n```section2\nnew body\n```\nand a full rewrite:\n```\nwhole doc\n```\n"

	blocks := ExtractBlocks(text)
	require.Len(t, blocks, 2)
	assert.Equal(t, PatchBlock{Target: "section2", Body: "new body"}, blocks[0])
	assert.Equal(t, PatchBlock{Target: "", Body: "whole doc"}, blocks[1])
}

func TestExtractBlocksNone(t *testing.T) {
	assert.Nil(t, ExtractBlocks("just prose, no fences"))
	// An unclosed fence is not a valid block.
	assert.Nil(t, ExtractBlocks("```section1\ndangling"))
}

func TestApplyPatchSetTargeted(t *testing.T) {
	wrapped := Wrap("aaa\nbbb\nccc", 3)

	result, err := ApplyPatchSet(wrapped, []PatchBlock{
		{Target: "section1", Body: "AAA"},
		{Target: "section3", Body: "CCC"},
	})
	require.NoError(t, err)
	assert.Equal(t, "AAA\nbbb\nCCC", Unwrap(result))
}

func TestApplyPatchSetLaterWriteWins(t *testing.T) {
	wrapped := Wrap("aaa\nbbb", 3)

	result, err := ApplyPatchSet(wrapped, []PatchBlock{
		{Target: "section1", Body: "first"},
		{Target: "section1", Body: "second"},
	})
	require.NoError(t, err)

	sections, _ := Parse(result)
	assert.Equal(t, "second", sections[0].Content)
}

func TestApplyPatchSetFullReplaceWins(t *testing.T) {
	wrapped := Wrap("aaa\nbbb", 3)

	result, err := ApplyPatchSet(wrapped, []PatchBlock{
		{Target: "section1", Body: "X"},
		{Target: "", Body: "Y"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Y", result)
}

func TestApplyPatchSetFullReplaceStopsProcessing(t *testing.T) {
	wrapped := Wrap("aaa", 10)

	result, err := ApplyPatchSet(wrapped, []PatchBlock{
		{Target: "", Body: "first replace"},
		{Target: "", Body: "second replace"},
		{Target: "section1", Body: "never applied"},
	})
	require.NoError(t, err)
	assert.Equal(t, "first replace", result)
}

func TestApplyPatchSetEmptyIsMalformed(t *testing.T) {
	_, err := ApplyPatchSet("anything", nil)
	assert.ErrorIs(t, err, ErrMalformedEdit)
}

func TestApplyPatchSetAppendsMissingTarget(t *testing.T) {
	wrapped := Wrap("aaa", 10)

	result, err := ApplyPatchSet(wrapped, []PatchBlock{
		{Target: "section5", Body: "appended"},
	})
	require.NoError(t, err)
	assert.Contains(t, Index(result), "section5")
}
