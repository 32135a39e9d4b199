package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
)

func mustPath(t *testing.T, stage, key string) stagepath.Path {
	t.Helper()
	p, err := stagepath.New(stage, key)
	require.NoError(t, err)
	return p
}

func mustRelative(t *testing.T, key string) stagepath.Path {
	t.Helper()
	p, err := stagepath.NewRelative(key)
	require.NoError(t, err)
	return p
}

func TestPutCommand(t *testing.T) {
	t.Run("nested object", func(t *testing.T) {
		cmd, err := putCommand(mustPath(t, "nxf_work", "runs/1/task.cmd"))
		require.NoError(t, err)
		assert.Equal(t, "PUT 'file:///task.cmd' '@nxf_work/runs/1' AUTO_COMPRESS=FALSE OVERWRITE=TRUE", cmd)
	})

	t.Run("object at stage root", func(t *testing.T) {
		cmd, err := putCommand(mustPath(t, "nxf_work", "data.txt"))
		require.NoError(t, err)
		assert.Equal(t, "PUT 'file:///data.txt' '@nxf_work' AUTO_COMPRESS=FALSE OVERWRITE=TRUE", cmd)
	})

	t.Run("embedded quote is doubled", func(t *testing.T) {
		cmd, err := putCommand(mustPath(t, "nxf_work", "runs/o'brien.txt"))
		require.NoError(t, err)
		assert.Equal(t, "PUT 'file:///o''brien.txt' '@nxf_work/runs' AUTO_COMPRESS=FALSE OVERWRITE=TRUE", cmd)
	})

	t.Run("stage root rejected", func(t *testing.T) {
		_, err := putCommand(mustPath(t, "nxf_work", ""))
		assert.Equal(t, perrors.ErrCodeIllegalArgument, perrors.CodeOf(err))
	})

	t.Run("relative path rejected", func(t *testing.T) {
		_, err := putCommand(mustRelative(t, "a/b.txt"))
		assert.Equal(t, perrors.ErrCodeIllegalState, perrors.CodeOf(err))
	})
}

func TestGetCommand(t *testing.T) {
	t.Run("nested object", func(t *testing.T) {
		cmd, err := getCommand(mustPath(t, "nxf_work", "runs/1/out.txt"))
		require.NoError(t, err)
		assert.Equal(t, "GET '@nxf_work/runs/1/out.txt' 'file:///tmp/'", cmd)
	})

	t.Run("stage root rejected", func(t *testing.T) {
		_, err := getCommand(mustPath(t, "nxf_work", ""))
		assert.Equal(t, perrors.ErrCodeIllegalArgument, perrors.CodeOf(err))
	})
}

func TestListCommand(t *testing.T) {
	t.Run("raw prefix", func(t *testing.T) {
		cmd, err := listCommand(mustPath(t, "nxf_work", "runs/1"), false)
		require.NoError(t, err)
		assert.Equal(t, "LS '@nxf_work/runs/1'", cmd)
	})

	t.Run("slash terminated", func(t *testing.T) {
		cmd, err := listCommand(mustPath(t, "nxf_work", "runs/1"), true)
		require.NoError(t, err)
		assert.Equal(t, "LS '@nxf_work/runs/1/'", cmd)
	})

	t.Run("stage root has no trailing slash", func(t *testing.T) {
		cmd, err := listCommand(mustPath(t, "nxf_work", ""), true)
		require.NoError(t, err)
		assert.Equal(t, "LS '@nxf_work'", cmd)
	})
}

func TestRemoveCommand(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		cmd, err := removeCommand(mustPath(t, "nxf_work", "runs/1/out.txt"))
		require.NoError(t, err)
		assert.Equal(t, "REMOVE '@nxf_work/runs/1/out.txt'", cmd)
	})

	t.Run("stage root rejected", func(t *testing.T) {
		_, err := removeCommand(mustPath(t, "nxf_work", ""))
		assert.Equal(t, perrors.ErrCodeIllegalArgument, perrors.CodeOf(err))
	})
}

func TestStripStageQualifier(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		stage string
		want  string
	}{
		{"qualified", "nxf_work/runs/1/out.txt", "nxf_work", "runs/1/out.txt"},
		{"case-normalized qualifier", "NXF_WORK/runs/1/out.txt", "nxf_work", "runs/1/out.txt"},
		{"already bare", "runs/1/out.txt", "nxf_work", "runs/1/out.txt"},
		{"stage name alone", "nxf_work", "nxf_work", "nxf_work"},
		{"similar prefix not stripped", "nxf_workx/a.txt", "nxf_work", "nxf_workx/a.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripStageQualifier(tt.in, tt.stage))
		})
	}
}

func TestParseEntry(t *testing.T) {
	t.Run("valid row", func(t *testing.T) {
		entry, err := parseEntry([]string{"nxf_work/runs/1/out.txt", "42", "d41d8cd98f00b204e9800998ecf8427e", "Mon, 4 Aug 2025 10:00:00 GMT"}, "nxf_work")
		require.NoError(t, err)
		assert.Equal(t, "runs/1/out.txt", entry.Key)
		assert.Equal(t, int64(42), entry.Size)
		assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", entry.ContentDigest)
		assert.False(t, entry.IsDirectory)
	})

	t.Run("quoted digest trimmed", func(t *testing.T) {
		entry, err := parseEntry([]string{"nxf_work/a.txt", "1", `"abc123"`, ""}, "nxf_work")
		require.NoError(t, err)
		assert.Equal(t, "abc123", entry.ContentDigest)
	})

	t.Run("short row", func(t *testing.T) {
		_, err := parseEntry([]string{"nxf_work/a.txt", "1"}, "nxf_work")
		assert.Equal(t, perrors.ErrCodeRemoteIO, perrors.CodeOf(err))
	})

	t.Run("malformed size", func(t *testing.T) {
		_, err := parseEntry([]string{"nxf_work/a.txt", "many", "abc", ""}, "nxf_work")
		assert.Equal(t, perrors.ErrCodeRemoteIO, perrors.CodeOf(err))
	})
}
