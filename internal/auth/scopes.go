package auth

// Known OAuth scopes used by the schedule service.
const (
	ScopeSchedulesWrite = "schedules:write"
	ScopeSchedulesRead  = "schedules:read"
)
