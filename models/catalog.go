package models

import "time"

// Service is one construction service offered by the company.
type Service struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	NameFr    string    `gorm:"type:varchar(255)" json:"name_fr,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

// Product is a purchasable package. Checkout sessions reference it through
// the productId metadata key.
type Product struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	NameFr    string    `gorm:"type:varchar(255)" json:"name_fr,omitempty"`
	Price     int64     `gorm:"not null;default:0" json:"price"` // minor units
	Delay     string    `gorm:"type:varchar(64)" json:"delay,omitempty"`
	Services  []Service `gorm:"many2many:product_services" json:"services,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}
