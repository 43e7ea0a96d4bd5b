// Package repository provides tenant-scoped persistence over gorm. Every
// query carries the tenant filter; a row owned by another tenant is reported
// exactly like a missing one.
package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diewo77/quotemaster/internal/models"
)

// ownedPtr constrains PT to be *T and to implement models.Owned.
type ownedPtr[T any] interface {
	*T
	models.Owned
}

// Scope narrows a query, e.g. a status or date filter.
type Scope = func(*gorm.DB) *gorm.DB

// Query describes one page of a list.
type Query struct {
	Limit  int
	Offset int
	Search string
	Scopes []Scope
}

// CascadeFunc deletes the children of a row before the row itself.
type CascadeFunc func(tx *gorm.DB, tenant string, id uint) error

// Preload names an association loaded with every read, in the given order.
type Preload struct {
	Name  string
	Order string
}

// Store is the generic tenant-scoped repository.
type Store[T any, PT ownedPtr[T]] struct {
	db       *gorm.DB
	search   []string
	preloads []Preload
	cascade  CascadeFunc
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	preloads []Preload
	cascade  CascadeFunc
}

// WithPreload loads an association on Get, List and Update.
func WithPreload(name, order string) Option {
	return func(o *storeOptions) { o.preloads = append(o.preloads, Preload{Name: name, Order: order}) }
}

// WithCascade runs fn inside the delete transaction.
func WithCascade(fn CascadeFunc) Option {
	return func(o *storeOptions) { o.cascade = fn }
}

// NewStore builds a Store for T. Search columns come from models.Searchable.
func NewStore[T any, PT ownedPtr[T]](db *gorm.DB, opts ...Option) *Store[T, PT] {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store[T, PT]{db: db, preloads: o.preloads, cascade: o.cascade}
	if sr, ok := any(PT(new(T))).(models.Searchable); ok {
		s.search = sr.SearchColumns()
	}
	return s
}

// DB exposes the handle for callers composing their own transactions.
func (s *Store[T, PT]) DB() *gorm.DB { return s.db }

func (s *Store[T, PT]) scoped(ctx context.Context, tx *gorm.DB, tenant string) *gorm.DB {
	return tx.WithContext(ctx).Model(new(T)).Where("user_id = ?", tenant)
}

func (s *Store[T, PT]) withPreloads(tx *gorm.DB) *gorm.DB {
	for _, p := range s.preloads {
		if p.Order == "" {
			tx = tx.Preload(p.Name)
			continue
		}
		order := p.Order
		tx = tx.Preload(p.Name, func(db *gorm.DB) *gorm.DB { return db.Order(order) })
	}
	return tx
}

// List returns one page of the tenant's rows, newest first, and the total
// number of matching rows.
func (s *Store[T, PT]) List(ctx context.Context, tenant string, q Query) ([]T, int64, error) {
	if tenant == "" {
		return nil, 0, ErrNoTenant
	}
	base := s.scoped(ctx, s.db, tenant)
	if term := strings.TrimSpace(q.Search); term != "" && len(s.search) > 0 {
		sql, args := searchClause(s.search, term)
		base = base.Where(sql, args...)
	}
	if len(q.Scopes) > 0 {
		base = base.Scopes(q.Scopes...)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, mapError(err)
	}

	items := make([]T, 0)
	if total == 0 || int64(q.Offset) >= total {
		return items, total, nil
	}
	find := s.withPreloads(base.Session(&gorm.Session{})).
		Order("created_at DESC").
		Order("id DESC").
		Offset(q.Offset)
	if q.Limit > 0 {
		find = find.Limit(q.Limit)
	}
	if err := find.Find(&items).Error; err != nil {
		return nil, 0, mapError(err)
	}
	return items, total, nil
}

// Get loads one row owned by tenant.
func (s *Store[T, PT]) Get(ctx context.Context, tenant string, id uint) (PT, error) {
	if tenant == "" {
		var zero PT
		return zero, ErrNoTenant
	}
	return s.get(ctx, s.db, tenant, id)
}

func (s *Store[T, PT]) get(ctx context.Context, tx *gorm.DB, tenant string, id uint) (PT, error) {
	row := PT(new(T))
	err := s.withPreloads(tx.WithContext(ctx)).
		Where("id = ? AND user_id = ?", id, tenant).
		First(row).Error
	if err != nil {
		var zero PT
		return zero, mapError(err)
	}
	return row, nil
}

// lock takes a row lock held until tx ends. sqlite has no row locks and
// drops the clause; its writers are serialized anyway.
func (s *Store[T, PT]) lock(ctx context.Context, tx *gorm.DB, tenant string, id uint) error {
	return tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Select("id").
		Where("id = ? AND user_id = ?", id, tenant).
		Take(new(T)).Error
}

// Create stamps the tenant on row and inserts it with its associations.
func (s *Store[T, PT]) Create(ctx context.Context, tenant string, row PT) error {
	if tenant == "" {
		return ErrNoTenant
	}
	row.SetUserID(tenant)
	return mapError(s.db.WithContext(ctx).Create(row).Error)
}

// UpdateFunc mutates a loaded row inside the update transaction.
type UpdateFunc[PT any] func(tx *gorm.DB, row PT) error

// Update loads the row, lets fn mutate it and saves it, all in one
// transaction. The row is locked first so concurrent updates of the same row
// apply one after the other. Associations are not saved; fn handles them
// through tx.
func (s *Store[T, PT]) Update(ctx context.Context, tenant string, id uint, fn UpdateFunc[PT]) (PT, error) {
	var out PT
	if tenant == "" {
		return out, ErrNoTenant
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lock(ctx, tx, tenant, id); err != nil {
			return err
		}
		row, err := s.get(ctx, tx, tenant, id)
		if err != nil {
			return err
		}
		if fn != nil {
			if err := fn(tx, row); err != nil {
				return err
			}
		}
		// the tenant is never changed through an update
		row.SetUserID(tenant)
		if err := tx.Omit(clause.Associations).Save(row).Error; err != nil {
			return err
		}
		out, err = s.get(ctx, tx, tenant, id)
		return err
	})
	if err != nil {
		var zero PT
		return zero, mapError(err)
	}
	return out, nil
}

// Delete removes the row and, when configured, its children.
func (s *Store[T, PT]) Delete(ctx context.Context, tenant string, id uint) error {
	if tenant == "" {
		return ErrNoTenant
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := s.scoped(ctx, tx, tenant).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if s.cascade != nil {
			if err := s.cascade(tx, tenant, id); err != nil {
				return fmt.Errorf("cascade delete: %w", err)
			}
		}
		res := tx.Where("id = ? AND user_id = ?", id, tenant).Delete(new(T))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	return mapError(err)
}

// Count returns the number of the tenant's rows matching scopes.
func (s *Store[T, PT]) Count(ctx context.Context, tenant string, scopes ...Scope) (int64, error) {
	if tenant == "" {
		return 0, ErrNoTenant
	}
	var n int64
	err := s.scoped(ctx, s.db, tenant).Scopes(scopes...).Count(&n).Error
	return n, mapError(err)
}

// Exists reports whether tenant owns the row.
func (s *Store[T, PT]) Exists(ctx context.Context, tenant string, id uint) (bool, error) {
	n, err := s.Count(ctx, tenant, func(db *gorm.DB) *gorm.DB { return db.Where("id = ?", id) })
	return n > 0, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchClause builds "(lower(a) LIKE ? OR lower(b) LIKE ?)" with the term
// lowercased and its wildcards escaped.
func searchClause(columns []string, term string) (string, []any) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
	parts := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf(`lower(%s) LIKE ? ESCAPE '\'`, col)
		args[i] = pattern
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}
