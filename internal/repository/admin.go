package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/models"
)

// TenantSummary is one row of the admin user listing.
type TenantSummary struct {
	UserID      string `json:"user_id"`
	ClientCount int64  `json:"client_count"`
}

// Stats is the cross-tenant view used by the admin surface. It is the only
// code allowed to read without a tenant filter.
type Stats struct {
	db *gorm.DB
}

func NewStats(db *gorm.DB) *Stats { return &Stats{db: db} }

// Tenants lists every tenant that owns at least one client.
func (s *Stats) Tenants(ctx context.Context) ([]TenantSummary, error) {
	out := make([]TenantSummary, 0)
	err := s.db.WithContext(ctx).Model(&models.Client{}).
		Select("user_id, COUNT(*) AS client_count").
		Group("user_id").
		Order("client_count DESC, user_id ASC").
		Scan(&out).Error
	return out, mapError(err)
}

// TotalClients counts clients across all tenants.
func (s *Stats) TotalClients(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Client{}).Count(&n).Error
	return n, mapError(err)
}

// DistinctTenants counts tenants that own at least one client.
func (s *Stats) DistinctTenants(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Client{}).Distinct("user_id").Count(&n).Error
	return n, mapError(err)
}
