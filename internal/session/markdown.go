package session

import "regexp"

var markdownLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// markdownToSlack rewrites markdown links as Slack-style <url|text>
// links. Everything else passes through untouched.
func markdownToSlack(text string) string {
	return markdownLinkPattern.ReplaceAllString(text, "<$2|$1>")
}
