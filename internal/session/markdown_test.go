package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownToSlack(t *testing.T) {
	in := "See [the doc](https://example.com/d) and [notes](https://example.com/n)."
	out := markdownToSlack(in)
	assert.Equal(t, "See <https://example.com/d|the doc> and <https://example.com/n|notes>.", out)
}

func TestMarkdownToSlackPassthrough(t *testing.T) {
	in := "no links here [just brackets] and (parens)"
	assert.Equal(t, in, markdownToSlack(in))
}
