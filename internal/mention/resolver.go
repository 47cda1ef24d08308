// Package mention extracts @name tokens from message text and maps them to
// the identities currently present in the session registry.
package mention

import "strings"

// Marker prefixes a mention token inside message text.
const Marker = "@"

// Resolve tokenizes text on whitespace, selects tokens beginning with the
// mention marker, and returns the ids of every registered identity whose
// display name matches the stripped token exactly (case-sensitive).
//
// The output follows the order mentions appear in the text and duplicates are
// preserved: "hi @Alice and @Alice" yields Alice's id twice. Display names are
// not unique, so a single mention can contribute several ids.
func Resolve(text string, byName map[string][]string) []string {
	if text == "" || len(byName) == 0 {
		return nil
	}

	var ids []string
	for _, token := range strings.Fields(text) {
		if !strings.HasPrefix(token, Marker) {
			continue
		}

		name := strings.TrimPrefix(token, Marker)
		if name == "" {
			continue
		}

		ids = append(ids, byName[name]...)
	}

	return ids
}
