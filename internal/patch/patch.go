// Package patch applies and produces text patches in diff-match-patch
// format, the wire format the AI provider uses for proposed diffs.
package patch

import (
	"errors"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrNoApply is returned when a patch no longer fits the content it is
// applied to (e.g. the script changed after the diff was proposed).
var ErrNoApply = errors.New("patch does not apply")

// Make produces a patch transforming before into after.
func Make(before, after string) string {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(before, dmp.DiffMain(before, after, false))
	return dmp.PatchToText(patches)
}

// Apply applies a patch to content. Every hunk must apply cleanly.
func Apply(content, patchText string) (string, error) {
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return "", fmt.Errorf("parsing patch: %w", err)
	}
	if len(patches) == 0 {
		return "", fmt.Errorf("parsing patch: no hunks")
	}

	result, applied := dmp.PatchApply(patches, content)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("hunk %d: %w", i, ErrNoApply)
		}
	}
	return result, nil
}
