package repository

import (
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/models"
)

type (
	ClientStore   = Store[models.Client, *models.Client]
	ProductStore  = Store[models.Product, *models.Product]
	EstimateStore = Store[models.Estimate, *models.Estimate]
	InvoiceStore  = Store[models.Invoice, *models.Invoice]
	RevenueStore  = Store[models.Revenue, *models.Revenue]
)

const itemOrder = "position ASC, id ASC"

// NewClientStore deletes a client's estimates and invoices with it.
func NewClientStore(db *gorm.DB) *ClientStore {
	return NewStore[models.Client](db, WithCascade(deleteClientChildren))
}

func NewProductStore(db *gorm.DB) *ProductStore {
	return NewStore[models.Product](db)
}

// NewEstimateStore always loads items, ordered by position.
func NewEstimateStore(db *gorm.DB) *EstimateStore {
	return NewStore[models.Estimate](db,
		WithPreload("Items", itemOrder),
		WithCascade(func(tx *gorm.DB, _ string, id uint) error {
			return tx.Where("estimate_id = ?", id).Delete(&models.EstimateItem{}).Error
		}),
	)
}

// NewInvoiceStore always loads items, ordered by position.
func NewInvoiceStore(db *gorm.DB) *InvoiceStore {
	return NewStore[models.Invoice](db,
		WithPreload("Items", itemOrder),
		WithCascade(func(tx *gorm.DB, _ string, id uint) error {
			return tx.Where("invoice_id = ?", id).Delete(&models.InvoiceItem{}).Error
		}),
	)
}

func NewRevenueStore(db *gorm.DB) *RevenueStore {
	return NewStore[models.Revenue](db)
}

// deleteClientChildren removes the client's documents and their items. The
// foreign keys cascade too, but sqlite only enforces them with a pragma.
func deleteClientChildren(tx *gorm.DB, tenant string, clientID uint) error {
	estimates := tx.Model(&models.Estimate{}).Select("id").Where("client_id = ? AND user_id = ?", clientID, tenant)
	if err := tx.Where("estimate_id IN (?)", estimates).Delete(&models.EstimateItem{}).Error; err != nil {
		return err
	}
	if err := tx.Where("client_id = ? AND user_id = ?", clientID, tenant).Delete(&models.Estimate{}).Error; err != nil {
		return err
	}
	invoices := tx.Model(&models.Invoice{}).Select("id").Where("client_id = ? AND user_id = ?", clientID, tenant)
	if err := tx.Where("invoice_id IN (?)", invoices).Delete(&models.InvoiceItem{}).Error; err != nil {
		return err
	}
	return tx.Where("client_id = ? AND user_id = ?", clientID, tenant).Delete(&models.Invoice{}).Error
}

// ReplaceEstimateItems swaps the stored items of e for e.Items.
// Call it from an Update callback after recomputing totals.
func ReplaceEstimateItems(tx *gorm.DB, e *models.Estimate) error {
	if err := tx.Where("estimate_id = ?", e.ID).Delete(&models.EstimateItem{}).Error; err != nil {
		return err
	}
	if len(e.Items) == 0 {
		return nil
	}
	for i := range e.Items {
		e.Items[i].ID = 0
		e.Items[i].EstimateID = e.ID
	}
	return tx.Create(&e.Items).Error
}

// ReplaceInvoiceItems swaps the stored items of inv for inv.Items.
func ReplaceInvoiceItems(tx *gorm.DB, inv *models.Invoice) error {
	if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.InvoiceItem{}).Error; err != nil {
		return err
	}
	if len(inv.Items) == 0 {
		return nil
	}
	for i := range inv.Items {
		inv.Items[i].ID = 0
		inv.Items[i].InvoiceID = inv.ID
	}
	return tx.Create(&inv.Items).Error
}

// StatusScope filters on the status column.
func StatusScope(status string) Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Where("status = ?", status) }
}

// ClientScope filters documents of one client.
func ClientScope(clientID uint) Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Where("client_id = ?", clientID) }
}

// CategoryScope filters products of one category.
func CategoryScope(category string) Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Where("category = ?", category) }
}
