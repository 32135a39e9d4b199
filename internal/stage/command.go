package stage

import (
	"fmt"
	"strconv"
	"strings"

	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// quoteRef single-quotes a stage or file reference for interpolation into
// a command, doubling any embedded quote.
func quoteRef(ref string) string {
	return "'" + strings.ReplaceAll(ref, "'", "''") + "'"
}

// putCommand builds the PUT statement that writes target. The local file
// URI only contributes the object's leaf name; the payload itself arrives
// through the session's file stream.
func putCommand(target stagepath.Path) (string, error) {
	if _, err := target.StageReference(); err != nil {
		return "", err
	}
	leaf := target.FileName()
	if leaf == "" {
		return "", perrors.New(perrors.ErrCodeIllegalArgument, "upload target must name an object, not a stage root").
			WithPath(target.String())
	}

	parent, _ := target.Parent()
	dest, err := parent.StageReference()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("PUT %s %s AUTO_COMPRESS=FALSE OVERWRITE=TRUE",
		quoteRef("file:///"+leaf), quoteRef("@"+dest)), nil
}

// getCommand builds the GET statement that reads source. The local
// directory URI is a placeholder; the payload leaves through the session's
// file stream.
func getCommand(source stagepath.Path) (string, error) {
	ref, err := source.StageReference()
	if err != nil {
		return "", err
	}
	if source.Key() == "" {
		return "", perrors.New(perrors.ErrCodeIllegalArgument, "download source must name an object, not a stage root").
			WithPath(source.String())
	}

	return fmt.Sprintf("GET %s %s", quoteRef("@"+ref), quoteRef("file:///tmp/")), nil
}

// listCommand builds the LS statement for prefix. With trailingSlash the
// match is constrained to keys strictly under the prefix, which is how
// directory probes are phrased; without it LS matches the raw prefix.
func listCommand(prefix stagepath.Path, trailingSlash bool) (string, error) {
	ref, err := prefix.StageReference()
	if err != nil {
		return "", err
	}

	target := "@" + ref
	if trailingSlash && prefix.Key() != "" {
		target += "/"
	}
	return "LS " + quoteRef(target), nil
}

// removeCommand builds the REMOVE statement for target.
func removeCommand(target stagepath.Path) (string, error) {
	ref, err := target.StageReference()
	if err != nil {
		return "", err
	}
	if target.Key() == "" {
		return "", perrors.New(perrors.ErrCodeIllegalArgument, "refusing to remove a whole stage").
			WithPath(target.String())
	}

	return "REMOVE " + quoteRef("@"+ref), nil
}

// stripStageQualifier removes the "<stage>/" prefix LS prepends to every
// name. The service reports stage names case-normalized, so the match is
// case-insensitive.
func stripStageQualifier(name, stage string) string {
	if len(name) > len(stage)+1 &&
		strings.EqualFold(name[:len(stage)], stage) &&
		name[len(stage)] == '/' {
		return name[len(stage)+1:]
	}
	return name
}

// parseEntry converts one LS result row into a StageEntry. Rows are
// positional: name, size, md5, last_modified. The timestamp column is
// ignored; attribute views surface the fixed sentinel time instead.
func parseEntry(row []string, stage string) (types.StageEntry, error) {
	if len(row) < 3 {
		return types.StageEntry{}, perrors.Newf(perrors.ErrCodeRemoteIO,
			"malformed listing row: %d columns", len(row)).
			WithComponent("stage-client")
	}

	size, err := strconv.ParseInt(row[1], 10, 64)
	if err != nil {
		return types.StageEntry{}, perrors.Wrap(perrors.ErrCodeRemoteIO, "malformed listing size", err).
			WithComponent("stage-client").
			WithDetail("name", row[0])
	}

	return types.StageEntry{
		Key:           stripStageQualifier(row[0], stage),
		Size:          size,
		ContentDigest: strings.Trim(row[2], `"`),
		IsDirectory:   false,
	}, nil
}

// directoryEntry synthesizes the entry for an emulated directory. The key
// keeps the caller's casing; size and digest carry the fixed values every
// directory reports.
func directoryEntry(key string) types.StageEntry {
	return types.StageEntry{
		Key:         key,
		IsDirectory: true,
	}
}
