package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/internal/delivery"
	"github.com/ucstore/ucstore-backend/pkg/config"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("issuer base url is required")
	errAPIKeyRequired  = errors.New("issuer api key is required")
	errDBRequired      = errors.New("issuer db connection is required")
	errLoggerRequired  = errors.New("issuer logger is required")
)

// Client credits UC to a player's game account through the upstream top-up
// API. Every call carries the order ID as the idempotency key, so a retried
// issue for the same order can never double-credit.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	db      *gorm.DB
	logger  *logger.Logger
}

func NewClient(cfg config.IssuerConfig, conn *gorm.DB, logg *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errAPIKeyRequired
	}
	if conn == nil {
		return nil, errDBRequired
	}
	if logg == nil {
		return nil, errLoggerRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		db:      conn,
		logger:  logg,
	}, nil
}

type topUpRequest struct {
	GameAccountID string `json:"game_account_id"`
	UCAmount      int    `json:"uc_amount"`
	OrderID       string `json:"order_id"`
}

type topUpResponse struct {
	TransferID string    `json:"transfer_id"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Issue implements [delivery.Issuer].
func (c *Client) Issue(ctx context.Context, order *models.Order) (*delivery.Receipt, error) {
	var user models.User
	if err := c.db.WithContext(ctx).First(&user, "id = ?", order.UserID).Error; err != nil {
		return nil, fmt.Errorf("loading order user: %w", err)
	}
	if user.GameAccountID == nil || *user.GameAccountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDeliveryFailed, "user has no game account linked")
	}

	var product models.Product
	if err := c.db.WithContext(ctx).First(&product, "id = ?", order.ProductID).Error; err != nil {
		return nil, fmt.Errorf("loading order product: %w", err)
	}

	payload := topUpRequest{
		GameAccountID: *user.GameAccountID,
		UCAmount:      product.UCAmount*order.Quantity + order.BonusUC,
		OrderID:       order.ID.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding top-up request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/topups", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building top-up request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", order.ID.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "calling top-up upstream")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "reading top-up response")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, pkgerrors.New(pkgerrors.CodeDeliveryFailed, "top-up upstream rejected the request").
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	var out topUpResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "decoding top-up response")
	}
	if out.TransferID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDeliveryFailed, "top-up upstream returned no transfer id")
	}
	if out.IssuedAt.IsZero() {
		out.IssuedAt = time.Now().UTC()
	}

	return &delivery.Receipt{
		TransferID: out.TransferID,
		IssuedAt:   out.IssuedAt,
		Raw:        raw,
	}, nil
}
