package domain

import "strings"

// NormalizeTenant maps equivalent tenant identifiers to one canonical form
// used for registry keys and topic names.
func NormalizeTenant(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizeTable canonicalizes a table identifier. Clients sometimes send
// the table prefixed with the tenant ("cafe9:t12" or "cafe9_t12"); both
// must route to the same topic as a bare "t12".
func NormalizeTable(tenant, table string) string {
	t := strings.ToLower(strings.TrimSpace(table))
	tenant = NormalizeTenant(tenant)
	for _, sep := range []string{":", "_", "-"} {
		t = strings.TrimPrefix(t, tenant+sep)
	}
	return t
}
