package vfs

import (
	"strings"

	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// childEntry is one immediate child produced by the listing reduction.
type childEntry struct {
	key   string
	isDir bool
}

// immediateChildren reduces a flat recursive listing to the entries one
// segment below dirKey. The listing service normalizes key casing in its
// responses, so prefix membership is decided case-insensitively while the
// returned child keys keep the casing the remote actually reported.
//
// Given keys {a/x.txt, a/b/y.txt, a/b/c/z.txt} and dirKey "a", the
// children are exactly {a/x.txt, a/b}: x.txt directly, and b once, as a
// synthetic directory covering everything deeper.
func immediateChildren(dirKey string, entries []types.StageEntry) []childEntry {
	prefix := ""
	if dirKey != "" {
		prefix = dirKey + "/"
	}

	var children []childEntry
	seen := make(map[string]struct{})

	for _, entry := range entries {
		if len(entry.Key) <= len(prefix) || !strings.EqualFold(entry.Key[:len(prefix)], prefix) {
			continue
		}
		rest := entry.Key[len(prefix):]

		child := childEntry{}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			child.key = joinKey(dirKey, rest[:i])
			child.isDir = true
		} else {
			child.key = joinKey(dirKey, rest)
			child.isDir = entry.IsDirectory
		}

		fold := strings.ToLower(child.key)
		if _, dup := seen[fold]; dup {
			continue
		}
		seen[fold] = struct{}{}
		children = append(children, child)
	}

	return children
}

func joinKey(dirKey, name string) string {
	if dirKey == "" {
		return name
	}
	return dirKey + "/" + name
}
