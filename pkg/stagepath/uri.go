package stagepath

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
)

// Scheme and Authority are the fixed literals of the stage URI form
// "snowflake://stages/<stageName>/<key...>". The authority marks "this
// is a stage reference"; it is not a host.
const (
	Scheme    = "snowflake"
	Authority = "stages"
)

const uriPrefix = Scheme + "://" + Authority + "/"

// Parse builds a Path from either the stage URI form or a bare relative
// key. URI segments are percent-decoded independently so that
// slash-unsafe characters round-trip through URI(). Anything not
// starting with the URI prefix is treated as a bare relative key.
func Parse(s string) (Path, error) {
	if !strings.HasPrefix(s, uriPrefix) {
		if strings.HasPrefix(s, Scheme+"://") {
			return Path{}, errors.Newf(errors.ErrCodePathInvalid, "URI %q does not use the %s authority", s, Authority).WithPath(s)
		}
		return NewRelative(s)
	}

	rest := strings.TrimPrefix(s, uriPrefix)
	if rest == "" {
		return Path{}, errors.Newf(errors.ErrCodePathInvalid, "URI %q names no stage", s).WithPath(s)
	}

	rawSegs := strings.Split(rest, "/")
	segs := make([]string, 0, len(rawSegs))
	for _, raw := range rawSegs {
		seg, err := url.PathUnescape(raw)
		if err != nil {
			return Path{}, errors.Wrap(errors.ErrCodePathInvalid, "URI segment "+raw+" is not percent-decodable", err).WithPath(s)
		}
		segs = append(segs, seg)
	}

	stage := segs[0]
	key := strings.Join(segs[1:], "/")
	// A trailing slash in the URI contributes one empty segment; drop it.
	key = strings.TrimSuffix(key, "/")
	p, err := New(stage, key)
	if err != nil {
		if pe, ok := errors.As(err); ok {
			pe.Path = s
		}
		return Path{}, err
	}
	return p, nil
}

// URI renders the canonical URI form for absolute paths, each segment
// percent-encoded independently. Relative paths have no URI form and
// render as their bare key, which Parse maps back to the same relative
// path.
func (p Path) URI() string {
	if !p.IsAbsolute() {
		return p.key
	}
	var b strings.Builder
	b.WriteString(uriPrefix)
	b.WriteString(url.PathEscape(p.stage))
	if p.key != "" {
		b.WriteByte('/')
		b.WriteString(escapeKey(p.key))
	}
	return b.String()
}

func escapeKey(key string) string {
	if key == "" {
		return ""
	}
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

// Serialized is the reduced form a Path takes across process or
// serialization boundaries. It carries no session or filesystem state;
// the consumer re-binds it to a live filesystem through the provider
// registry.
type Serialized struct {
	StageName   string `json:"stageName"`
	RelativeKey string `json:"relativeKey"`
	Absolute    bool   `json:"absolute"`
}

// Serialized returns the reduced boundary-crossing form of p.
func (p Path) Serialized() Serialized {
	return Serialized{
		StageName:   p.stage,
		RelativeKey: p.key,
		Absolute:    p.IsAbsolute(),
	}
}

// FromSerialized validates and reconstructs a Path from its reduced
// form.
func FromSerialized(s Serialized) (Path, error) {
	if s.Absolute != (s.StageName != "") {
		return Path{}, errors.Newf(errors.ErrCodePathInvalid, "serialized form is inconsistent: absolute=%v with stage %q", s.Absolute, s.StageName)
	}
	if !s.Absolute {
		return NewRelative(s.RelativeKey)
	}
	return New(s.StageName, s.RelativeKey)
}

// MarshalJSON encodes p in its reduced serialized form.
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Serialized())
}

// UnmarshalJSON decodes and validates the reduced serialized form.
func (p *Path) UnmarshalJSON(data []byte) error {
	var s Serialized
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := FromSerialized(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
