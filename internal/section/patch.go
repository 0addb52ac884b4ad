package section

import (
	"errors"
	"regexp"
	"strings"
)

// ErrMalformedEdit reports a patch set that contained no valid fenced
// block. The caller recovers by discarding the patch and sending a
// corrective follow-up prompt; the session keeps running.
var ErrMalformedEdit = errors.New("edit response did not match the expected format")

// PatchBlock is one edit instruction extracted from a completion
// response. An empty Target replaces the whole document; a non-empty
// Target names a section id.
type PatchBlock struct {
	Target string
	Body   string
}

// blockPattern matches fenced blocks whose opening fence may carry a
// target id: ```section2\n...\n```
var blockPattern = regexp.MustCompile("(?s)```(\\S*)\\n(.*?)\\n```")

// ExtractBlocks pulls every fenced patch block out of a completion
// response, in order. Returns nil when the text contains none.
func ExtractBlocks(text string) []PatchBlock {
	var blocks []PatchBlock
	for _, m := range blockPattern.FindAllStringSubmatch(text, -1) {
		blocks = append(blocks, PatchBlock{
			Target: strings.TrimSpace(m[1]),
			Body:   strings.TrimSpace(m[2]),
		})
	}
	return blocks
}

// ApplyPatchSet applies blocks to a marked document in order. The
// first block with an empty target replaces the entire document and
// ends processing; remaining blocks are never reached. Otherwise each
// block updates (or appends) its target section, and a later block may
// overwrite a section an earlier block in the same set already touched.
// An empty block set is ErrMalformedEdit.
func ApplyPatchSet(text string, blocks []PatchBlock) (string, error) {
	if len(blocks) == 0 {
		return "", ErrMalformedEdit
	}

	updated := text
	for _, block := range blocks {
		if block.Target == "" {
			return block.Body, nil
		}
		updated, _ = Update(updated, block.Target, block.Body)
	}
	return updated, nil
}
