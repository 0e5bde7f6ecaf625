package controllers

import (
	"net/http"

	internalcatalog "github.com/ucstore/ucstore-backend/internal/catalog"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"

	"github.com/ucstore/ucstore-backend/api/responses"
)

type productResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	UCAmount int     `json:"ucAmount"`
	BonusUC  int     `json:"bonusUc"`
	PriceUSD string  `json:"priceUsd"`
	PriceEUR *string `json:"priceEur,omitempty"`
	PriceRUB *string `json:"priceRub,omitempty"`
}

// ListProducts returns the active UC packages in display order.
func ListProducts(svc internalcatalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable"))
			return
		}

		products, err := svc.ListActive(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products"))
			return
		}

		out := make([]productResponse, 0, len(products))
		for i := range products {
			out = append(out, toProductResponse(&products[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func toProductResponse(p *models.Product) productResponse {
	resp := productResponse{
		ID:       p.ID.String(),
		Name:     p.Name,
		UCAmount: p.UCAmount,
		BonusUC:  p.BonusUC,
		PriceUSD: p.PriceUSD.StringFixed(2),
	}
	if p.PriceEUR != nil {
		eur := p.PriceEUR.StringFixed(2)
		resp.PriceEUR = &eur
	}
	if p.PriceRUB != nil {
		rub := p.PriceRUB.StringFixed(2)
		resp.PriceRUB = &rub
	}
	return resp
}
