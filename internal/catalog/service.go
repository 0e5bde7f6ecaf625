package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/db/models"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
)

// Service exposes the purchasable UC packages.
type Service interface {
	ListActive(ctx context.Context) ([]models.Product, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection required")
	}
	return &service{db: db}, nil
}

func (s *service) ListActive(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("sort_order ASC, price_usd ASC").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.WithContext(ctx).First(&product, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, err
	}
	return &product, nil
}
