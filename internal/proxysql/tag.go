package proxysql

import (
	"strconv"
	"strings"
)

// Sentinel is the fixed prefix identifying a rule's comment as managed by
// this scheduler; it is the single identifier distinguishing managed rules
// from operator-owned ones.
const Sentinel = "readyset_scheduler:"

// FormatRedirectTag returns the comment for a redirect-shaped managed rule.
func FormatRedirectTag() string {
	return Sentinel + "redirect"
}

// FormatMirrorTag returns the comment for a mirror-shaped managed rule with
// installation timestamp t0 (unix seconds).
func FormatMirrorTag(t0 int64) string {
	return Sentinel + "mirror:" + strconv.FormatInt(t0, 10)
}

// IsManaged reports whether comment carries this scheduler's sentinel.
func IsManaged(comment string) bool {
	return strings.HasPrefix(comment, Sentinel)
}

// ParseTag extracts the shape and, for mirror rules, the t0 timestamp from
// a managed rule's comment. ok is false if comment is not a recognized
// managed-rule tag.
func ParseTag(comment string) (shape RuleShape, t0 int64, ok bool) {
	if !IsManaged(comment) {
		return "", 0, false
	}
	body := strings.TrimPrefix(comment, Sentinel)

	if body == "redirect" {
		return ShapeRedirect, 0, true
	}

	if rest, found := strings.CutPrefix(body, "mirror:"); found {
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return "", 0, false
		}
		return ShapeMirror, n, true
	}

	return "", 0, false
}
