package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

// CustomerRepo stores normalized customer match keys for dedupe.
type CustomerRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCustomerRepo creates a CustomerRepo.
func NewCustomerRepo(db *sql.DB, tp TimeProvider) *CustomerRepo {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &CustomerRepo{DB: db, timeProvider: tp}
}

const customerColumns = `id, tenant_id, email_normalized, phone_normalized, address_key, name_key, created_at`

// findCandidatesSQL matches any non-empty key. Empty arguments never match because the
// partial indexes and the stored rows exclude empty keys.
const findCandidatesSQL = `
  SELECT ` + customerColumns + `
  FROM customers
  WHERE tenant_id = $1
    AND (
         ($2 <> '' AND email_normalized = $2)
      OR ($3 <> '' AND phone_normalized = $3)
      OR ($4 <> '' AND address_key = $4)
      OR ($5 <> '' AND name_key = $5)
    )
  ORDER BY id ASC
  LIMIT $6`

// FindCandidates returns customers sharing at least one non-empty key, ordered by id.
func (r *CustomerRepo) FindCandidates(
	ctx context.Context,
	tenantID string,
	keys model.MatchKeys,
	limit int,
) ([]model.CustomerRecord, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantIDRequired
	}
	if keys.Empty() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB.QueryContext(ctx, findCandidatesSQL,
		tenantID, keys.Email, keys.Phone, keys.AddressKey, keys.NameKey, limit)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var out []model.CustomerRecord
	for rows.Next() {
		rec, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return out, nil
}

// Upsert inserts or refreshes a customer's match keys.
func (r *CustomerRepo) Upsert(ctx context.Context, rec *model.CustomerRecord) (*model.CustomerRecord, error) {
	if rec == nil {
		return nil, errors.New("customer record is required")
	}
	if strings.TrimSpace(rec.TenantID) == "" {
		return nil, ErrTenantIDRequired
	}
	if strings.TrimSpace(rec.ID) == "" {
		return nil, ErrCustomerIDRequired
	}

	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO customers (id, tenant_id, email_normalized, phone_normalized, address_key, name_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET email_normalized = EXCLUDED.email_normalized,
		    phone_normalized = EXCLUDED.phone_normalized,
		    address_key = EXCLUDED.address_key,
		    name_key = EXCLUDED.name_key,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+customerColumns,
		strings.TrimSpace(rec.ID), rec.TenantID, rec.Email, rec.Phone, rec.AddressKey, rec.NameKey, now,
	)
	out, err := scanCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", apperrors.MapDBError(err))
	}
	return out, nil
}

func scanCustomer(scanner rowScanner) (*model.CustomerRecord, error) {
	var rec model.CustomerRecord
	if err := scanner.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.Email,
		&rec.Phone,
		&rec.AddressKey,
		&rec.NameKey,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
