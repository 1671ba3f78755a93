// Package tag implements the key/value labels servers advertise and read
// preferences filter by.
package tag

// Tag is a name/value pair.
type Tag struct {
	Name  string
	Value string
}

// Set is an ordered list of Tags. Order is preserved for diagnostics but
// never significant to matching.
type Set []Tag

// NewSet builds a Set by taking its arguments in (name, value) pairs.
func NewSet(kv ...string) Set {
	if len(kv)%2 != 0 {
		panic("tag.NewSet: argument count is odd")
	}

	var set Set
	for i := 0; i < len(kv); i += 2 {
		set = append(set, Tag{Name: kv[i], Value: kv[i+1]})
	}
	return set
}

// NewSetFromMap builds a Set from a map.
func NewSetFromMap(m map[string]string) Set {
	var set Set
	for k, v := range m {
		set = append(set, Tag{Name: k, Value: v})
	}
	return set
}

// NewSetsFromMaps builds Sets from a slice of maps, preserving order.
func NewSetsFromMaps(maps []map[string]string) []Set {
	sets := make([]Set, 0, len(maps))
	for _, m := range maps {
		sets = append(sets, NewSetFromMap(m))
	}
	return sets
}

// Contains reports whether the name/value pair exists in the set.
func (ts Set) Contains(name, value string) bool {
	for _, t := range ts {
		if t.Name == name && t.Value == value {
			return true
		}
	}
	return false
}

// ContainsAll reports whether the set is a superset of other: every pair in
// other must be present in ts. An empty other is trivially contained by any
// set, including an empty one — this is what lets an empty read-preference
// tag set match every server.
func (ts Set) ContainsAll(other Set) bool {
	for _, ot := range other {
		if !ts.Contains(ot.Name, ot.Value) {
			return false
		}
	}
	return true
}

// Map renders the set back into a map, discarding order.
func (ts Set) Map() map[string]string {
	m := make(map[string]string, len(ts))
	for _, t := range ts {
		m[t.Name] = t.Value
	}
	return m
}
