package omnicube

import "strings"

// ExclusionSet holds host name fragments that are never flagged.
//
// Matching is substring containment, not equality: "restore" also excludes
// "host_restore_01".
type ExclusionSet []string

// ParseExclusions splits a comma separated -E value. Blank entries are
// dropped since an empty fragment would match every host.
func ParseExclusions(list string) ExclusionSet {
	var set ExclusionSet
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			set = append(set, part)
		}
	}
	return set
}

// Excludes reports whether host contains any fragment of the set.
func (e ExclusionSet) Excludes(host string) bool {
	for _, fragment := range e {
		if fragment != "" && strings.Contains(host, fragment) {
			return true
		}
	}
	return false
}
