package models

import "time"

// Client represents a customer of a tenant.
// Deleting a client removes its estimates and invoices.
type Client struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// UserID is the owning tenant (for multi-tenant isolation)
	UserID string `gorm:"size:255;index;not null" json:"user_id"`

	// Contact information
	Name    string  `gorm:"size:255;not null" json:"name"`
	Email   *string `gorm:"size:255;index" json:"email"`
	Phone   *string `gorm:"size:50" json:"phone"`
	Address *string `gorm:"type:text" json:"address"`
	Company *string `gorm:"size:255" json:"company"`

	// Relations, only used for the cascade constraints
	Estimates []Estimate `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`
	Invoices  []Invoice  `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`
}

// GetUserID implements Owned.
func (c *Client) GetUserID() string { return c.UserID }

// SetUserID implements Owned.
func (c *Client) SetUserID(tenant string) { c.UserID = tenant }

// SearchColumns implements Searchable.
func (c *Client) SearchColumns() []string {
	return []string{"name", "email", "company"}
}

// DisplayName prefers the company name when one is set.
func (c *Client) DisplayName() string {
	if c.Company != nil && *c.Company != "" {
		return *c.Company + " (" + c.Name + ")"
	}
	return c.Name
}
