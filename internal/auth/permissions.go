package auth

// PermSystemAdmin is the administrative catch-all required for any
// resource/action pair that is not explicitly mapped.
const PermSystemAdmin = "system:admin"

// Builtin permission keys.
const (
	PermBuildingRead  = "building:read"
	PermBuildingWrite = "building:write"
	PermReportRead    = "report:read"
	PermReportExport  = "report:export"
	PermUserManage    = "user:manage"
	PermSessionManage = "session:manage"
)

// DefaultRules maps "resource:action" pairs to the permission they require.
func DefaultRules() map[string]string {
	return map[string]string{
		"building:read":   PermBuildingRead,
		"building:write":  PermBuildingWrite,
		"report:read":     PermReportRead,
		"report:export":   PermReportExport,
		"user:manage":     PermUserManage,
		"session:manage":  PermSessionManage,
		"session:revoke":  PermSessionManage,
		"building:delete": PermBuildingWrite,
	}
}

// DefaultRoles is the role set loaded when no external definition is given.
func DefaultRoles() RoleSet {
	return RoleSet{
		"admin":    {"system:*", "building:*", "report:*", "user:*", "session:*"},
		"operator": {"building:*", PermReportRead},
		"viewer":   {PermBuildingRead, PermReportRead},
	}
}
