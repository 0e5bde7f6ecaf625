package issuer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/config"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

func newIssuerDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:issuer_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.User{}, &models.Product{}))
	t.Cleanup(func() {
		conn.Exec("DELETE FROM users")
		conn.Exec("DELETE FROM products")
	})
	return conn
}

func newIssuerFixture(t *testing.T, upstream http.HandlerFunc) (*Client, *models.Order) {
	t.Helper()
	conn := newIssuerDB(t)

	gameAccount := "5123456789"
	user := models.User{TelegramID: uuid.NewString(), GameAccountID: &gameAccount}
	require.NoError(t, conn.Create(&user).Error)

	product := models.Product{Name: "660 UC", UCAmount: 600, BonusUC: 60, PriceUSD: decimal.NewFromInt(10), Active: true}
	require.NoError(t, conn.Create(&product).Error)

	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	logg := logger.New(logger.Options{ServiceName: "issuer-test", Level: logger.ParseLevel("debug"), Output: io.Discard})
	client, err := NewClient(config.IssuerConfig{BaseURL: server.URL, APIKey: "topup-key", Timeout: 5 * time.Second}, conn, logg)
	require.NoError(t, err)

	order := &models.Order{
		ID:        uuid.New(),
		UserID:    user.ID,
		ProductID: product.ID,
		Quantity:  2,
		BonusUC:   120,
		Amount:    decimal.NewFromInt(20),
	}
	return client, order
}

func TestIssue_CreditsUpstream(t *testing.T) {
	var got topUpRequest
	var idempotencyKey string
	client, order := newIssuerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/topups", r.URL.Path)
		require.Equal(t, "Bearer topup-key", r.Header.Get("Authorization"))
		idempotencyKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(topUpResponse{TransferID: "tr-771", IssuedAt: time.Now().UTC()})
	})

	receipt, err := client.Issue(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, "tr-771", receipt.TransferID)
	require.False(t, receipt.IssuedAt.IsZero())

	require.Equal(t, order.ID.String(), idempotencyKey)
	require.Equal(t, "5123456789", got.GameAccountID)
	// 2 x 600 UC plus the order-level bonus.
	require.Equal(t, 1320, got.UCAmount)
}

func TestIssue_UpstreamFailure(t *testing.T) {
	client, order := newIssuerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := client.Issue(context.Background(), order)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDeliveryFailed))
}

func TestIssue_MissingGameAccount(t *testing.T) {
	client, order := newIssuerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called without a game account")
	})

	var user models.User
	conn := client.db
	require.NoError(t, conn.First(&user, "id = ?", order.UserID).Error)
	require.NoError(t, conn.Model(&user).Update("game_account_id", nil).Error)

	_, err := client.Issue(context.Background(), order)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDeliveryFailed))
}
