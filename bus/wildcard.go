package bus

import (
	"fmt"
	"strings"
)

// ValidatePattern rejects patterns mixing '*' and '>' or placing '>'
// anywhere but the final segment. Plain channel names (no wildcard
// segments at all) are always valid patterns.
func ValidatePattern(pattern string) error {
	segs := strings.Split(pattern, ".")
	hasStar := false
	hasTail := false
	for i, s := range segs {
		if s == ">" {
			if i != len(segs)-1 {
				return newErr("ValidatePattern", pattern, fmt.Errorf("%w: '>' must be the last segment", ErrArgument))
			}
			hasTail = true
		}
		if s == "*" {
			hasStar = true
		}
	}
	if hasStar && hasTail {
		return newErr("ValidatePattern", pattern, fmt.Errorf("%w: cannot mix '*' and '>'", ErrArgument))
	}
	return nil
}

// IsWildcard reports whether pattern contains any wildcard segment.
func IsWildcard(pattern string) bool {
	return strings.Contains(pattern, "*") || strings.HasSuffix(pattern, ">")
}

// Match reports whether channelName satisfies pattern, per the dotted
// segment grammar: '*' matches exactly one segment, trailing '>'
// matches one or more trailing segments.
func Match(channelName, pattern string) bool {
	cseg := strings.Split(channelName, ".")
	pseg := strings.Split(pattern, ".")

	if len(pseg) > 0 && pseg[len(pseg)-1] == ">" {
		head := pseg[:len(pseg)-1]
		if len(cseg) <= len(head) {
			return false
		}
		for i, p := range head {
			if p != "*" && p != cseg[i] {
				return false
			}
		}
		return true
	}

	if len(cseg) != len(pseg) {
		return false
	}
	for i, p := range pseg {
		if p != "*" && p != cseg[i] {
			return false
		}
	}
	return true
}
