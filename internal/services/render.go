package services

import (
	"regexp"
	"strings"
)

var (
	spaceRun    = regexp.MustCompile(` {2,}`)
	sentenceEnd = regexp.MustCompile(`([.!?]) +`)
)

// Render substitutes {user} with a mention of memberID and {role} with a
// mention of roleID. With reflow set, a template entered as a single line
// is broken up for readability: runs of two or more spaces become
// paragraph breaks and sentence-ending punctuation starts a new line.
// Templates that already contain line breaks are left as written.
func Render(template, memberID, roleID string, reflow bool) string {
	out := strings.ReplaceAll(template, "{user}", "<@"+memberID+">")
	out = strings.ReplaceAll(out, "{role}", "<@&"+roleID+">")
	if !reflow || strings.Contains(template, "\n") {
		return out
	}
	out = spaceRun.ReplaceAllString(out, "\n\n")
	out = sentenceEnd.ReplaceAllString(out, "$1\n")
	return strings.TrimSpace(out)
}
