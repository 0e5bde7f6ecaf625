package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/enums"
)

// Product is a purchasable UC denomination.
type Product struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name      string           `gorm:"column:name;type:text;not null"`
	UCAmount  int              `gorm:"column:uc_amount;not null"`
	BonusUC   int              `gorm:"column:bonus_uc;not null;default:0"`
	PriceUSD  decimal.Decimal  `gorm:"column:price_usd;type:numeric(10,2);not null"`
	PriceEUR  *decimal.Decimal `gorm:"column:price_eur;type:numeric(10,2)"`
	PriceRUB  *decimal.Decimal `gorm:"column:price_rub;type:numeric(10,2)"`
	Active    bool             `gorm:"column:active;not null;default:true"`
	SortOrder int              `gorm:"column:sort_order;not null;default:0"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// TotalUC returns the UC credited per unit including the bonus.
func (p *Product) TotalUC() int {
	return p.UCAmount + p.BonusUC
}

// Price returns the unit price in the requested currency, falling back to USD
// when the currency-specific price is not configured.
func (p *Product) Price(currency enums.Currency) decimal.Decimal {
	switch currency {
	case enums.CurrencyEUR:
		if p.PriceEUR != nil {
			return *p.PriceEUR
		}
	case enums.CurrencyRUB:
		if p.PriceRUB != nil {
			return *p.PriceRUB
		}
	}
	return p.PriceUSD
}
