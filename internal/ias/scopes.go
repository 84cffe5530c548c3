package ias

// ScopeMapper maps provider scopes and groups onto application scopes.
// Unmapped scopes pass through; unmapped groups are dropped.
type ScopeMapper struct {
	mapping map[string]string
}

// NewScopeMapper copies mapping. A nil mapping passes scopes through.
func NewScopeMapper(mapping map[string]string) *ScopeMapper {
	m := &ScopeMapper{mapping: make(map[string]string, len(mapping))}
	for k, v := range mapping {
		m.mapping[k] = v
	}
	return m
}

// Map returns the deduplicated application scopes for scopes and groups,
// in first-seen order.
func (m *ScopeMapper) Map(scopes, groups []string) []string {
	seen := make(map[string]bool, len(scopes)+len(groups))
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, s := range scopes {
		if mapped, ok := m.mapping[s]; ok {
			add(mapped)
			continue
		}
		add(s)
	}
	for _, g := range groups {
		if mapped, ok := m.mapping[g]; ok {
			add(mapped)
		}
	}
	return out
}
