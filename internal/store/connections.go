package store

import (
	"context"
	"database/sql"
	"fmt"

	"reconciliation-service/internal/errs"
	"reconciliation-service/internal/models"
)

// GetShopConnection retrieves a tenant's platform credential record. The
// row is written by the external connection wizard; this engine only reads.
func (s *Store) GetShopConnection(ctx context.Context, tenantID string) (*models.ShopConnection, error) {
	query := `
		SELECT tenant_id, shop_domain, access_token, currency, timezone, connected_at
		FROM shop_connections WHERE tenant_id = $1`

	var conn models.ShopConnection
	err := s.db.GetContext(ctx, &conn, query, tenantID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w for tenant: %s", errs.ErrConnectionNotFound, tenantID)
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}
