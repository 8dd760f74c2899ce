// Package mention extracts @username references from post bodies.
package mention

import "regexp"

var pattern = regexp.MustCompile(`@(\w+)`)

// Extract returns the distinct usernames referenced as @name in text,
// in first-seen order. Matching is case-sensitive; whether a name maps
// to a real account is the caller's problem.
func Extract(text string) []string {
	matches := pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
