package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionExamsMonitor allows watching live exam progress.
	PermissionExamsMonitor Permission = "exams:monitor"

	// PermissionSystemRead allows viewing server metrics.
	PermissionSystemRead Permission = "system:read"
)
