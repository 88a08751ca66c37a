package orchestrator

import "regexp"

// MentionAll broadcasts to every participant except the sender.
const MentionAll = "all"

var mentionRe = regexp.MustCompile(`@([\w-]+)`)

// ParseMentions extracts addressee handles from message text in order of
// first appearance, deduplicated. broadcast is true when @all appears.
func ParseMentions(content string) (handles []string, broadcast bool) {
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllStringSubmatch(content, -1) {
		h := m[1]
		if h == MentionAll {
			broadcast = true
			continue
		}
		if !seen[h] {
			seen[h] = true
			handles = append(handles, h)
		}
	}
	return handles, broadcast
}
