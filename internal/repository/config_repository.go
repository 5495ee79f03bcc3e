package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BotConfig struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MenuItem struct {
	Label   string `json:"label"`
	Action  string `json:"action"`
	Payload string `json:"payload"`
}

type Menu struct {
	ID        int             `json:"id"`
	Slug      string          `json:"slug"`
	Title     string          `json:"title"`
	Items     json.RawMessage `json:"items"` // Flexible JSON structure
	CreatedAt time.Time       `json:"created_at"`
}

// MenuItems decodes the items column
func (m Menu) MenuItems() ([]MenuItem, error) {
	if len(m.Items) == 0 {
		return nil, nil
	}
	var items []MenuItem
	if err := json.Unmarshal(m.Items, &items); err != nil {
		return nil, fmt.Errorf("invalid menu items json: %w", err)
	}
	return items, nil
}

type ConfigRepository struct {
	db *pgxpool.Pool
}

func NewConfigRepository(db *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// qualifyConfigTable returns schema-qualified table name
func qualifyConfigTable(schema, table string) string {
	if schema == "" || schema == "public" {
		return table
	}
	return fmt.Sprintf("%s.%s", sanitizeSchemaName(schema), table)
}

// GetConfig returns a config value by key (schema-aware)
func (r *ConfigRepository) GetConfig(ctx context.Context, schemaName, key string) (string, error) {
	table := qualifyConfigTable(schemaName, "bot_config")
	var value string
	err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT value FROM %s WHERE key=$1", table), key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil // Not found is not strictly an error
		}
		return "", err
	}
	return value, nil
}

// SetConfig sets a config value (schema-aware)
func (r *ConfigRepository) SetConfig(ctx context.Context, schemaName, key, value string) error {
	table := qualifyConfigTable(schemaName, "bot_config")
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
	`, table), key, value)
	return err
}

// GetMenu returns a menu by slug, nil when missing (schema-aware)
func (r *ConfigRepository) GetMenu(ctx context.Context, schemaName, slug string) (*Menu, error) {
	table := qualifyConfigTable(schemaName, "menus")
	var m Menu
	err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT id, slug, title, items, created_at FROM %s WHERE slug=$1", table), slug).
		Scan(&m.ID, &m.Slug, &m.Title, &m.Items, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// CreateMenu creates a new menu (schema-aware)
func (r *ConfigRepository) CreateMenu(ctx context.Context, schemaName string, m *Menu) error {
	table := qualifyConfigTable(schemaName, "menus")
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (slug, title, items, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`, table), m.Slug, m.Title, m.Items).Scan(&m.ID, &m.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("menu %q: %w", m.Slug, ErrDuplicate)
	}
	return err
}

// GetAllMenus list all menus (schema-aware)
func (r *ConfigRepository) GetAllMenus(ctx context.Context, schemaName string) ([]Menu, error) {
	table := qualifyConfigTable(schemaName, "menus")
	rows, err := r.db.Query(ctx, fmt.Sprintf("SELECT id, slug, title, items, created_at FROM %s ORDER BY id", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	menus := []Menu{}
	for rows.Next() {
		var m Menu
		if err := rows.Scan(&m.ID, &m.Slug, &m.Title, &m.Items, &m.CreatedAt); err != nil {
			return nil, err
		}
		menus = append(menus, m)
	}
	return menus, rows.Err()
}
