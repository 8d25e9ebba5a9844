package modules

import (
	"context"
	"time"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// Module is global reference data describing an optional functional area
type Module struct {
	Key         string `json:"key" yaml:"key"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`
	Active      bool   `json:"active" yaml:"active"`
	SortOrder   int    `json:"sort_order" yaml:"sort_order"`
}

// ProjectModule is the per-project toggle of a module. Disabling keeps the
// row and its configuration.
type ProjectModule struct {
	ID        int64                  `json:"id"`
	ProjectID int64                  `json:"project_id"`
	ModuleKey string                 `json:"module_key"`
	Enabled   bool                   `json:"enabled"`
	Config    map[string]interface{} `json:"config"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

var _ tenancy.Scoped = (*ProjectModule)(nil)

// TenantID implements tenancy.Scoped
func (pm *ProjectModule) TenantID() int64 {
	if pm == nil {
		return 0
	}
	return pm.ProjectID
}

// EntityType implements tenancy.Scoped
func (pm *ProjectModule) EntityType() string { return "project_module" }

// ConfigMode selects how Enable treats an existing configuration
type ConfigMode int

const (
	// ConfigMerge overlays the given keys on the stored configuration
	ConfigMerge ConfigMode = iota
	// ConfigReplace discards the stored configuration
	ConfigReplace
)

// Recorder receives audit events after a change has committed
type Recorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// Registry tracks the module catalog and per-project enablement
type Registry interface {
	ListAvailable(ctx context.Context) ([]*Module, error)
	IsEnabled(ctx context.Context, projectID int64, key string) (bool, error)
	EnabledKeys(ctx context.Context, projectID int64) ([]string, error)
	ListProjectModules(ctx context.Context, projectID int64) ([]*ProjectModule, error)
	Enable(ctx context.Context, projectID int64, actor tenancy.Actor, key string, config map[string]interface{}, mode ConfigMode) (*ProjectModule, error)
	Disable(ctx context.Context, projectID int64, actor tenancy.Actor, key string) (bool, error)
	ReplaceEnabled(ctx context.Context, projectID int64, actor tenancy.Actor, keys []string) ([]string, error)
	EnsureEnabled(ctx context.Context, projectID int64, key string) error
	GetConfig(ctx context.Context, projectID int64, key string) (map[string]interface{}, error)
}

// mergeConfig overlays update on base. Keys in update win; nested maps are
// replaced, not merged.
func mergeConfig(base, update map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(update))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}
