package storage

import "github.com/porthorian/sessionauth/pkg/authz"

// AggregateRoles is the reference RolesOf for records that carry their
// groups inline.
func AggregateRoles(record UserRecord) []string {
	sets := make([][]string, 0, len(record.Groups)+1)
	sets = append(sets, record.Roles)
	for _, group := range record.Groups {
		sets = append(sets, group.Roles)
	}
	return authz.NormalizeRoles(sets...)
}

func CloneUserRecord(record UserRecord) UserRecord {
	record.Roles = append([]string(nil), record.Roles...)
	groups := make([]GroupRecord, len(record.Groups))
	for i, group := range record.Groups {
		group.Roles = append([]string(nil), group.Roles...)
		groups[i] = group
	}
	record.Groups = groups
	if record.DateModified != nil {
		modified := *record.DateModified
		record.DateModified = &modified
	}
	return record
}
