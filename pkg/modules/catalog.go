package modules

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Catalog is the list of modules the platform offers
type Catalog struct {
	Modules []Module `yaml:"modules" json:"modules"`
}

// DefaultCatalog returns the built-in module catalog
func DefaultCatalog() *Catalog {
	entries := []struct{ key, name, description, icon string }{
		{"pos", "Point of Sale", "Checkout and receipts", "cash-register"},
		{"sales", "Sales", "Orders and customers", "chart-line"},
		{"products", "Products", "Product catalog and pricing", "box"},
		{"inventory", "Inventory", "Stock levels and movements", "warehouse"},
		{"payments", "Payments", "Payment collection and refunds", "credit-card"},
		{"expenses", "Expenses", "Expense tracking", "receipt"},
		{"tasks", "Tasks", "Task lists and assignments", "check-square"},
		{"hr", "Human Resources", "Employees and shifts", "users"},
		{"analytics", "Analytics", "Reports and dashboards", "chart-pie"},
		{"invoicing", "Invoicing", "Invoices and billing documents", "file-invoice"},
	}

	catalog := &Catalog{}
	for i, e := range entries {
		catalog.Modules = append(catalog.Modules, Module{
			Key:         e.key,
			Name:        e.name,
			Description: e.description,
			Icon:        e.icon,
			Active:      true,
			SortOrder:   (i + 1) * 10,
		})
	}
	return catalog
}

// LoadCatalog reads a YAML catalog from path
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse module catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Validate checks keys are well formed and unique and every module is named
func (c *Catalog) Validate() error {
	if len(c.Modules) == 0 {
		return fmt.Errorf("module catalog is empty")
	}
	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if !keyPattern.MatchString(m.Key) {
			return fmt.Errorf("invalid module key %q", m.Key)
		}
		if seen[m.Key] {
			return fmt.Errorf("duplicate module key %q", m.Key)
		}
		if m.Name == "" {
			return fmt.Errorf("module %q has no name", m.Key)
		}
		seen[m.Key] = true
	}
	return nil
}

// Seed upserts the catalog into the modules table. Modules missing from the
// catalog are left alone; deactivate them with active: false instead.
func (r *PostgresRegistry) Seed(ctx context.Context, catalog *Catalog) error {
	if err := catalog.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range catalog.Modules {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO modules (key, name, description, icon, is_active, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO UPDATE
			SET name = excluded.name, description = excluded.description, icon = excluded.icon,
				is_active = excluded.is_active, sort_order = excluded.sort_order
		`, m.Key, m.Name, m.Description, m.Icon, m.Active, m.SortOrder)
		if err != nil {
			return fmt.Errorf("failed to seed module %s: %w", m.Key, err)
		}
	}

	return tx.Commit()
}
