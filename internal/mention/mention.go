// Package mention finds @name references in note text and resolves them
// against a user directory.
package mention

import "regexp"

var tokenPattern = regexp.MustCompile(`@([A-Za-z0-9_]+)`)

// Mention is a resolved reference to a known user.
type Mention struct {
	UserID string `json:"userId"`
	Name   string `json:"username"`
}

// Directory resolves an exact, case-sensitive display name to a user id.
type Directory interface {
	Lookup(name string) (userID string, ok bool)
}

// MapDirectory is a Directory keyed by display name.
type MapDirectory map[string]string

func (d MapDirectory) Lookup(name string) (string, bool) {
	id, ok := d[name]
	return id, ok
}

// Names returns the distinct @tokens of text in order of first appearance.
func Names(text string) []string {
	matches := tokenPattern.FindAllStringSubmatch(text, -1)
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

// Extract resolves the @tokens of text through dir. Unknown names are dropped
// and each user appears once, at the position of its first resolved token.
func Extract(text string, dir Directory) []Mention {
	names := Names(text)
	if len(names) == 0 || dir == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	mentions := make([]Mention, 0, len(names))
	for _, name := range names {
		userID, ok := dir.Lookup(name)
		if !ok || userID == "" {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		mentions = append(mentions, Mention{UserID: userID, Name: name})
	}
	return mentions
}
