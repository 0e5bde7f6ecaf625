package providers

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucstore/ucstore-backend/pkg/enums"
	"github.com/ucstore/ucstore-backend/pkg/errors"
)

const CryptoPayXName = "cryptopayx"

// CryptoPayX handles crypto gateway invoice callbacks, authenticated with an
// HMAC-SHA512 hex digest of the raw body.
type CryptoPayX struct {
	secret string
}

func NewCryptoPayX(secret string) *CryptoPayX {
	return &CryptoPayX{secret: secret}
}

func (a *CryptoPayX) Name() string { return CryptoPayXName }

func (a *CryptoPayX) Verify(payload []byte, signature string) bool {
	if signature == "" || a.secret == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(a.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

type cryptoPayXPayload struct {
	InvoiceID    string `json:"invoice_id"`
	OrderRef     string `json:"order_ref"`
	FiatAmount   string `json:"fiat_amount"`
	FiatCurrency string `json:"fiat_currency"`
	Status       string `json:"status"`
	TxHash       string `json:"tx_hash,omitempty"`
	Asset        string `json:"asset,omitempty"`
}

func (a *CryptoPayX) Normalize(payload []byte) (*PaymentEvent, error) {
	var body cryptoPayXPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "decode cryptopayx payload")
	}
	if strings.TrimSpace(body.InvoiceID) == "" {
		return nil, errors.New(errors.CodeMalformedPayload, "cryptopayx payload missing invoice_id")
	}
	orderID, err := uuid.Parse(body.OrderRef)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "cryptopayx payload order_ref")
	}
	amount, err := decimal.NewFromString(body.FiatAmount)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "cryptopayx payload fiat_amount")
	}
	currency, err := enums.ParseCurrency(body.FiatCurrency)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "cryptopayx payload fiat_currency")
	}

	var outcome enums.PaymentOutcome
	switch body.Status {
	case "confirmed":
		outcome = enums.PaymentOutcomeConfirmed
	case "expired", "underpaid":
		outcome = enums.PaymentOutcomeFailed
	case "waiting", "confirming":
		outcome = enums.PaymentOutcomeInitiated
	default:
		return nil, errors.New(errors.CodeMalformedPayload, "cryptopayx payload status unrecognized", map[string]any{
			"status": body.Status,
		})
	}

	meta, _ := json.Marshal(map[string]string{
		"tx_hash": body.TxHash,
		"asset":   body.Asset,
	})
	return &PaymentEvent{
		Provider:              CryptoPayXName,
		ExternalTransactionID: body.InvoiceID,
		OrderID:               orderID,
		Amount:                amount,
		Currency:              currency,
		Outcome:               outcome,
		Metadata:              meta,
	}, nil
}
