package stagepath

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	t.Parallel()

	t.Run("full form", func(t *testing.T) {
		p, err := Parse("snowflake://stages/nxf_work/runs/3f/a1/.command.run")
		require.NoError(t, err)
		assert.Equal(t, "nxf_work", p.StageName())
		assert.Equal(t, "runs/3f/a1/.command.run", p.Key())
		assert.True(t, p.IsAbsolute())
	})

	t.Run("stage root", func(t *testing.T) {
		p, err := Parse("snowflake://stages/nxf_work")
		require.NoError(t, err)
		assert.Equal(t, "nxf_work", p.StageName())
		assert.Equal(t, "", p.Key())
	})

	t.Run("trailing slash", func(t *testing.T) {
		p, err := Parse("snowflake://stages/nxf_work/runs/")
		require.NoError(t, err)
		assert.Equal(t, "runs", p.Key())
	})

	t.Run("percent-decoded segments", func(t *testing.T) {
		p, err := Parse("snowflake://stages/nxf_work/sample%201/read%232.fastq")
		require.NoError(t, err)
		assert.Equal(t, "sample 1/read#2.fastq", p.Key())
	})

	t.Run("bare string is a relative key", func(t *testing.T) {
		p, err := Parse(".command.out")
		require.NoError(t, err)
		assert.False(t, p.IsAbsolute())
		assert.Equal(t, ".command.out", p.Key())
	})

	t.Run("missing stage fails", func(t *testing.T) {
		_, err := Parse("snowflake://stages/")
		assert.Error(t, err)
	})

	t.Run("wrong authority fails", func(t *testing.T) {
		_, err := Parse("snowflake://host/stage/key")
		assert.Error(t, err)
	})

	t.Run("traversal in URI fails", func(t *testing.T) {
		_, err := Parse("snowflake://stages/nxf_work/a/../../etc")
		assert.Error(t, err)
	})
}

func TestURIRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stage string
		key   string
	}{
		{"nxf_work", "runs/3f/a1/.command.run"},
		{"nxf_work", ""},
		{"MixedCase", "Dir/File.TXT"},
		{"nxf_work", "with space/and'quote"},
		{"nxf_work", "pct%25literal"},
		{"nxf_work", "hash#frag/q?mark"},
	}

	for _, tt := range tests {
		t.Run(tt.stage+"/"+tt.key, func(t *testing.T) {
			p, err := New(tt.stage, tt.key)
			require.NoError(t, err)

			back, err := Parse(p.URI())
			require.NoError(t, err, "URI was %q", p.URI())
			assert.Equal(t, p, back)
		})
	}

	t.Run("relative round-trips through bare key", func(t *testing.T) {
		p, err := NewRelative("a/b c")
		require.NoError(t, err)
		back, err := Parse(p.URI())
		require.NoError(t, err)
		assert.Equal(t, p.Key(), back.Key())
	})
}

func TestSerializedForm(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		p, err := New("nxf_work", "runs/3f/task")
		require.NoError(t, err)

		s := p.Serialized()
		assert.Equal(t, Serialized{StageName: "nxf_work", RelativeKey: "runs/3f/task", Absolute: true}, s)

		back, err := FromSerialized(s)
		require.NoError(t, err)
		assert.Equal(t, p, back)
	})

	t.Run("inconsistent form rejected", func(t *testing.T) {
		_, err := FromSerialized(Serialized{StageName: "", RelativeKey: "k", Absolute: true})
		assert.Error(t, err)
		_, err = FromSerialized(Serialized{StageName: "s", RelativeKey: "k", Absolute: false})
		assert.Error(t, err)
	})

	t.Run("tampered key rejected", func(t *testing.T) {
		_, err := FromSerialized(Serialized{StageName: "s", RelativeKey: "../etc", Absolute: true})
		assert.Error(t, err)
	})
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := New("nxf_work", "runs/3f/task")
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stageName":"nxf_work","relativeKey":"runs/3f/task","absolute":true}`, string(data))

	var back Path
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p, back)

	var bad Path
	err = json.Unmarshal([]byte(`{"stageName":"s","relativeKey":"/etc","absolute":true}`), &bad)
	assert.Error(t, err, "leading-slash key must fail validation during decode")
}
