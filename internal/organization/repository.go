package organization

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bloodbank-auth/internal/auth"
)

var ErrNotFound = errors.New("organization not found")

const organizationColumns = `id, type, name, email, phone, emergency_phone, street, city, state, pincode, created_at, updated_at`

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func scanOrganization(row interface{ Scan(dest ...any) error }) (Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Type, &o.Name, &o.Email, &o.Phone, &o.EmergencyPhone,
		&o.Address.Street, &o.Address.City, &o.Address.State, &o.Address.Pincode,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// List returns organizations by name, restricted to orgType when it is set.
func (r *Repository) List(ctx context.Context, orgType auth.OrganizationType) ([]Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations`
	args := make([]any, 0, 1)
	if orgType != "" {
		query += ` WHERE type = $1`
		args = append(args, string(orgType))
	}
	query += ` ORDER BY name ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query organizations: %w", err)
	}
	defer rows.Close()

	organizations := make([]Organization, 0)
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		organizations = append(organizations, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}

	return organizations, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Organization, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Organization{}, ErrNotFound
	}

	o, err := scanOrganization(r.db.QueryRowContext(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, fmt.Errorf("query organization: %w", err)
	}
	return o, nil
}

func (r *Repository) Create(ctx context.Context, input Input) (Organization, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Organization{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := r.now().UTC()
	o := Organization{
		ID:             id.String(),
		Type:           input.Type,
		Name:           input.Name,
		Email:          input.Email,
		Phone:          input.Phone,
		EmergencyPhone: input.EmergencyPhone,
		Address:        input.Address,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO organizations (`+organizationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, o.ID, string(o.Type), o.Name, o.Email, o.Phone, o.EmergencyPhone,
		o.Address.Street, o.Address.City, o.Address.State, o.Address.Pincode,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("insert organization: %w", err)
	}

	return o, nil
}

// OrganizationExists reports whether id names an organization of type t.
func (r *Repository) OrganizationExists(ctx context.Context, id string, t auth.OrganizationType) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1 AND type = $2)`, id, string(t)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check organization: %w", err)
	}
	return exists, nil
}
