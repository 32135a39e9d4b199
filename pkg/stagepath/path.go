package stagepath

import (
	"strings"

	"github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
)

// Path is an immutable location inside a Snowflake stage: a stage name
// plus a slash-separated relative key. A Path with an empty stage name
// is relative. Path values are comparable; equality and ordering are
// lexicographic on (stageName, relativeKey), case-sensitive.
//
// A Path performs no I/O and never holds a session. It is safe to copy,
// compare, and send across goroutines.
type Path struct {
	stage string
	key   string
}

// New builds an absolute Path addressing key inside stage.
func New(stage, key string) (Path, error) {
	if stage == "" {
		return Path{}, errors.New(errors.ErrCodePathInvalid, "stage name is empty")
	}
	if strings.Contains(stage, "/") || stage == ".." || stage == "." {
		return Path{}, errors.Newf(errors.ErrCodePathInvalid, "invalid stage name %q", stage)
	}
	if err := validateKey(key); err != nil {
		return Path{}, err
	}
	return Path{stage: stage, key: key}, nil
}

// NewRelative builds a relative Path from a bare key.
func NewRelative(key string) (Path, error) {
	if err := validateKey(key); err != nil {
		return Path{}, err
	}
	return Path{key: key}, nil
}

// validateKey rejects keys that could escape the stage or that are not
// in canonical slash-separated form.
func validateKey(key string) error {
	if key == "" {
		return nil
	}
	if strings.HasPrefix(key, "/") {
		return errors.Newf(errors.ErrCodePathInvalid, "key %q has a leading slash", key).WithPath(key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return errors.Newf(errors.ErrCodePathInvalid, "key %q contains a parent-directory segment", key).WithPath(key)
		}
	}
	return nil
}

// IsAbsolute reports whether the path names a stage.
func (p Path) IsAbsolute() bool { return p.stage != "" }

// StageName returns the stage name, empty for relative paths.
func (p Path) StageName() string { return p.stage }

// Key returns the relative key within the stage. It never has a leading
// slash and never contains a ".." segment.
func (p Path) Key() string { return p.key }

// StageReference returns the "<stageName>/<key>" form used inside
// remote commands. A relative path cannot name a remote location.
func (p Path) StageReference() (string, error) {
	if !p.IsAbsolute() {
		return "", errors.New(errors.ErrCodeIllegalState, "relative path has no stage reference").WithPath(p.key)
	}
	if p.key == "" {
		return p.stage, nil
	}
	return p.stage + "/" + p.key, nil
}

// FileName returns the last key segment, or "" for a stage root or an
// empty relative path.
func (p Path) FileName() string {
	if p.key == "" {
		return ""
	}
	if i := strings.LastIndexByte(p.key, '/'); i >= 0 {
		return p.key[i+1:]
	}
	return p.key
}

// Parent returns the path one segment up. ok is false at a stage root
// or an empty relative path.
func (p Path) Parent() (parent Path, ok bool) {
	if p.key == "" {
		return Path{}, false
	}
	if i := strings.LastIndexByte(p.key, '/'); i >= 0 {
		return Path{stage: p.stage, key: p.key[:i]}, true
	}
	return Path{stage: p.stage}, true
}

// Resolve joins other onto p. An absolute other wins unchanged; a
// relative other concatenates keys with a single slash.
func (p Path) Resolve(other Path) Path {
	if other.IsAbsolute() {
		return other
	}
	if other.key == "" {
		return p
	}
	if p.key == "" {
		return Path{stage: p.stage, key: other.key}
	}
	return Path{stage: p.stage, key: p.key + "/" + other.key}
}

// ResolveKey resolves a bare relative key against p. It fails when key
// is not a valid relative key.
func (p Path) ResolveKey(key string) (Path, error) {
	rel, err := NewRelative(key)
	if err != nil {
		return Path{}, err
	}
	return p.Resolve(rel), nil
}

// Relativize returns the path that, resolved against p, addresses
// other. Both paths must name the same stage (compared
// case-insensitively, since the remote service normalizes stage names)
// or both be relative. Walking upward past the shared prefix clamps
// silently at the root, so for non-descendants the result is other's
// segments past the common prefix.
func (p Path) Relativize(other Path) (Path, error) {
	if p.IsAbsolute() != other.IsAbsolute() {
		return Path{}, errors.New(errors.ErrCodeIllegalArgument, "cannot relativize an absolute path against a relative one").WithPath(other.String())
	}
	if p.IsAbsolute() && !strings.EqualFold(p.stage, other.stage) {
		return Path{}, errors.Newf(errors.ErrCodeIllegalArgument, "paths name different stages (%s vs %s)", p.stage, other.stage).WithPath(other.String())
	}

	pSegs := splitKey(p.key)
	oSegs := splitKey(other.key)
	common := 0
	for common < len(pSegs) && common < len(oSegs) && pSegs[common] == oSegs[common] {
		common++
	}

	segs := make([]string, 0, len(pSegs)-common+len(oSegs)-common)
	for i := common; i < len(pSegs); i++ {
		segs = append(segs, "..")
	}
	segs = append(segs, oSegs[common:]...)
	return Path{key: normalizeSegments(segs)}, nil
}

// Normalize collapses "." segments and applies ".." segments by
// removing the preceding segment, clamping silently at the root.
func (p Path) Normalize() Path {
	return Path{stage: p.stage, key: normalizeSegments(splitKey(p.key))}
}

// StartsWith reports whether p begins with other, segment-aligned.
func (p Path) StartsWith(other Path) bool {
	if p.stage != other.stage {
		return false
	}
	pSegs := splitKey(p.key)
	oSegs := splitKey(other.key)
	if len(oSegs) > len(pSegs) {
		return false
	}
	for i, seg := range oSegs {
		if pSegs[i] != seg {
			return false
		}
	}
	return true
}

// EndsWith reports whether p ends with other, segment-aligned. An
// absolute other matches only an equal absolute path.
func (p Path) EndsWith(other Path) bool {
	if other.IsAbsolute() {
		return p == other
	}
	pSegs := splitKey(p.key)
	oSegs := splitKey(other.key)
	if len(oSegs) > len(pSegs) {
		return false
	}
	off := len(pSegs) - len(oSegs)
	for i, seg := range oSegs {
		if pSegs[off+i] != seg {
			return false
		}
	}
	return true
}

// Compare orders paths lexicographically on (stageName, relativeKey).
func (p Path) Compare(other Path) int {
	if c := strings.Compare(p.stage, other.stage); c != 0 {
		return c
	}
	return strings.Compare(p.key, other.key)
}

// String returns the stage-reference form for absolute paths and the
// bare key for relative ones.
func (p Path) String() string {
	if !p.IsAbsolute() {
		return p.key
	}
	if p.key == "" {
		return p.stage
	}
	return p.stage + "/" + p.key
}

func splitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, "/")
}

// normalizeSegments applies "." and ".." handling over raw segments.
// Excess ".." past the root is dropped rather than failing.
func normalizeSegments(segs []string) string {
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch seg {
		case "", ".":
			// collapse
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}
