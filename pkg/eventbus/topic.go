package eventbus

import "strings"

const (
	// Separator splits topic segments ("plugin.loaded").
	Separator = "."

	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"
)

// IsWildcard reports whether a pattern contains a wildcard segment.
func IsWildcard(pattern string) bool {
	for _, seg := range strings.Split(pattern, Separator) {
		if seg == WildcardSingle || seg == WildcardMulti {
			return true
		}
	}
	return false
}

// Matches reports whether topic is matched by pattern.
// "*" matches exactly one segment and "**" matches zero or more.
func Matches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if pattern == "" || topic == "" {
		return false
	}
	return matchSegments(strings.Split(topic, Separator), strings.Split(pattern, Separator))
}

func matchSegments(topic, pattern []string) bool {
	ti, pi := 0, 0

	for pi < len(pattern) {
		if pattern[pi] == WildcardMulti {
			for ti <= len(topic) {
				if matchSegments(topic[ti:], pattern[pi+1:]) {
					return true
				}
				ti++
			}
			return false
		}

		if ti >= len(topic) {
			return false
		}

		if pattern[pi] == WildcardSingle || pattern[pi] == topic[ti] {
			ti++
			pi++
			continue
		}
		return false
	}

	return ti == len(topic)
}

// namespace returns the first segment of a topic, used as a low-cardinality
// metrics label.
func namespace(topic string) string {
	if i := strings.Index(topic, Separator); i >= 0 {
		return topic[:i]
	}
	return topic
}
