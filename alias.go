package amdefine

import (
	"sort"
	"strings"
)

// EmptyModule is the alias target that resolves an identifier to an empty
// object without touching the filesystem.
const EmptyModule = "empty:"

// An Alias rewrites identifiers starting with Prefix.
type Alias struct {
	Prefix string
	Target string
}

// AliasTable is an alias list ordered by descending prefix length, so the
// most specific alias is always tried first.
type AliasTable []Alias

// NewAliasTable orders paths into an AliasTable. Empty prefixes are
// ignored; prefixes of equal length are ordered lexically so the table does
// not depend on map iteration order.
func NewAliasTable(paths map[string]string) AliasTable {
	t := make(AliasTable, 0, len(paths))
	for prefix, target := range paths {
		if prefix == "" {
			continue
		}
		t = append(t, Alias{Prefix: prefix, Target: target})
	}
	sort.Slice(t, func(i, j int) bool {
		if len(t[i].Prefix) != len(t[j].Prefix) {
			return len(t[i].Prefix) > len(t[j].Prefix)
		}
		return t[i].Prefix < t[j].Prefix
	})
	return t
}

// CheckPath rewrites the prefix of id matched by the longest alias. An
// alias targeting EmptyModule yields EmptyModule whatever follows the
// prefix. Without a match id is returned unchanged.
func (t AliasTable) CheckPath(id string) string {
	for _, a := range t {
		if !strings.HasPrefix(id, a.Prefix) {
			continue
		}
		if a.Target == EmptyModule {
			return EmptyModule
		}
		return a.Target + id[len(a.Prefix):]
	}
	return id
}
