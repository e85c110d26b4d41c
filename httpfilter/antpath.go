package httpfilter

import "strings"

// MatchPattern matches request paths against Ant-style glob patterns:
// '?' matches one character, '*' matches within a path segment, '**'
// matches across segments.
func MatchPattern(pattern, path string) bool {
	return matchSegments(splitPath(pattern), splitPath(path))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		if len(pattern) == 1 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchSegments(pattern[1:], path[i:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if !matchSegment(pattern[0], path[0]) {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}

// matchSegment matches '*' and '?' wildcards inside one segment with
// iterative backtracking.
func matchSegment(pattern, segment string) bool {
	var pIdx, sIdx int
	starIdx, starMatch := -1, 0

	for sIdx < len(segment) {
		switch {
		case pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == segment[sIdx]):
			pIdx++
			sIdx++
		case pIdx < len(pattern) && pattern[pIdx] == '*':
			starIdx = pIdx
			starMatch = sIdx
			pIdx++
		case starIdx >= 0:
			pIdx = starIdx + 1
			starMatch++
			sIdx = starMatch
		default:
			return false
		}
	}

	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(pattern)
}
