package providers

import (
	"crypto/hmac"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucstore/ucstore-backend/pkg/enums"
	"github.com/ucstore/ucstore-backend/pkg/errors"
)

const WalletIOName = "walletio"

// WalletIO handles e-wallet notifications. WalletIO does not sign payloads;
// it sends a static shared token, so the comparison is constant-time but the
// token grants no per-payload integrity.
type WalletIO struct {
	secret string
}

func NewWalletIO(secret string) *WalletIO {
	return &WalletIO{secret: secret}
}

func (a *WalletIO) Name() string { return WalletIOName }

func (a *WalletIO) Verify(_ []byte, signature string) bool {
	if signature == "" || a.secret == "" {
		return false
	}
	return hmac.Equal([]byte(a.secret), []byte(signature))
}

type walletIOPayload struct {
	TxnID           string `json:"txn_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	State           string `json:"state"`
	WalletAccount   string `json:"wallet_account,omitempty"`
}

func (a *WalletIO) Normalize(payload []byte) (*PaymentEvent, error) {
	var body walletIOPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "decode walletio payload")
	}
	if strings.TrimSpace(body.TxnID) == "" {
		return nil, errors.New(errors.CodeMalformedPayload, "walletio payload missing txn_id")
	}
	orderID, err := uuid.Parse(body.MerchantOrderID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "walletio payload merchant_order_id")
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "walletio payload amount")
	}
	currency, err := enums.ParseCurrency(body.Currency)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "walletio payload currency")
	}

	var outcome enums.PaymentOutcome
	switch body.State {
	case "paid":
		outcome = enums.PaymentOutcomeConfirmed
	case "declined", "reversed":
		outcome = enums.PaymentOutcomeFailed
	case "created", "processing":
		outcome = enums.PaymentOutcomeInitiated
	default:
		return nil, errors.New(errors.CodeMalformedPayload, "walletio payload state unrecognized", map[string]any{
			"state": body.State,
		})
	}

	meta, _ := json.Marshal(map[string]string{"wallet_account": body.WalletAccount})
	return &PaymentEvent{
		Provider:              WalletIOName,
		ExternalTransactionID: body.TxnID,
		OrderID:               orderID,
		Amount:                amount,
		Currency:              currency,
		Outcome:               outcome,
		Metadata:              meta,
	}, nil
}
