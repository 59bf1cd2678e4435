package catalog

// MatchKind classifies an entry against another peer's catalog.
type MatchKind int

const (
	// Missing: no entry with the same id and name exists on the other side.
	Missing MatchKind = iota
	// Similar: same id and name, different checksum.
	Similar
	// Direct: same id, name and checksum.
	Direct
)

func (k MatchKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Similar:
		return "similar"
	default:
		return "missing"
	}
}

func (k MatchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type Match struct {
	Entry Entry     `json:"entry"`
	Kind  MatchKind `json:"kind"`
}

type identity struct {
	id   uint64
	name string
}

func index(entries []Entry) map[identity]Entry {
	idx := make(map[identity]Entry, len(entries))
	for _, e := range entries {
		idx[identity{e.ID, e.Name}] = e
	}
	return idx
}

// Annotate classifies every entry of entries against the catalog other,
// keeping the order of entries.
func Annotate(entries, other []Entry) []Match {
	idx := index(other)
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		kind := Missing
		if o, ok := idx[identity{e.ID, e.Name}]; ok {
			kind = Similar
			if o.Checksum == e.Checksum {
				kind = Direct
			}
		}
		matches = append(matches, Match{Entry: e, Kind: kind})
	}
	return matches
}

// MissingFrom returns the remote entries that local does not have, in
// remote order.
func MissingFrom(local, remote []Entry) []Entry {
	idx := index(local)
	var missing []Entry
	for _, e := range remote {
		if _, ok := idx[identity{e.ID, e.Name}]; !ok {
			missing = append(missing, e)
		}
	}
	return missing
}
