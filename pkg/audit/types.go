package audit

import (
	"encoding/json"
	"time"

	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// Actions recorded by the core services
const (
	ActionCreated         = "created"
	ActionUpdated         = "updated"
	ActionDeleted         = "deleted"
	ActionStatusChanged   = "status_changed"
	ActionEnabledModule   = "enabled_module"
	ActionDisabledModule  = "disabled_module"
	ActionReplacedModules = "replaced_modules"
	ActionInvited         = "invited"
	ActionAccepted        = "accepted"
	ActionExpired         = "expired"
)

// Area tags group entries by functional area
const (
	AreaProjects = "projects"
	AreaMembers  = "members"
	AreaModules  = "modules"
)

// Entry is one immutable audit log record. TargetType and TargetID name
// the entity that changed.
type Entry struct {
	ID          int64           `json:"id"`
	ProjectID   int64           `json:"project_id"`
	ActorID     *int64          `json:"actor_id,omitempty"`
	Action      string          `json:"action"`
	TargetType  string          `json:"entity_type"`
	TargetID    string          `json:"entity_id,omitempty"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	IPAddress   string          `json:"ip_address,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	Description string          `json:"description,omitempty"`
	Area        string          `json:"area,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

var _ tenancy.Scoped = (*Entry)(nil)

// TenantID implements tenancy.Scoped
func (e *Entry) TenantID() int64 {
	if e == nil {
		return 0
	}
	return e.ProjectID
}

// EntityType implements tenancy.Scoped
func (e *Entry) EntityType() string { return "audit_entry" }

// Event is what callers hand to the Recorder after a successful mutation.
// Before and After are marshalled to JSON; nil means no snapshot.
type Event struct {
	ProjectID   int64
	Actor       tenancy.Actor
	Action      string
	EntityType  string
	EntityID    string
	Before      interface{}
	After       interface{}
	Area        string
	Description string
}

// Filter selects entries of one project. Results are newest first unless
// Ascending is set. A Limit of zero or less returns every match.
type Filter struct {
	ProjectID  int64
	ActorID    *int64
	EntityType string
	EntityID   string
	Action     string
	Area       string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
	Ascending  bool
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Stats summarizes the entries of one project
type Stats struct {
	ProjectID    int64            `json:"project_id"`
	Total        int64            `json:"total"`
	ByAction     map[string]int64 `json:"by_action"`
	ByEntityType map[string]int64 `json:"by_entity_type"`
	ByArea       map[string]int64 `json:"by_area"`
	UniqueActors int64            `json:"unique_actors"`
	From         *time.Time       `json:"from,omitempty"`
	To           *time.Time       `json:"to,omitempty"`
}
