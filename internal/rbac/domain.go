package rbac

// Permission names follow the feature:access pattern used across handlers.
const (
	PermQuotesRead         = "quotes:read"
	PermQuotesWrite        = "quotes:write"
	PermInvoicesRead       = "invoices:read"
	PermInvoicesWrite      = "invoices:write"
	PermInterventionsRead  = "interventions:read"
	PermInterventionsWrite = "interventions:write"
	PermInventoryRead      = "inventory:read"
	PermInventoryWrite     = "inventory:write"
	PermAgendaRead         = "agenda:read"
	PermAgendaWrite        = "agenda:write"
	PermTimesheetsRead     = "timesheets:read"
	PermTimesheetsWrite    = "timesheets:write"
)

// Role groups permissions under a name ("admin", "technicien", ...).
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ActorAccess is the resolved view handed to the client for gating
// navigation and action availability.
type ActorAccess struct {
	ActorID     int64           `json:"actor_id"`
	Roles       []string        `json:"roles"`
	Permissions []string        `json:"permissions"`
	Features    map[string]bool `json:"features"`
}
