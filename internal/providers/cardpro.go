package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucstore/ucstore-backend/pkg/enums"
	"github.com/ucstore/ucstore-backend/pkg/errors"
)

const CardProName = "cardpro"

// CardPro handles card acquirer callbacks. Payloads are authenticated with an
// HMAC-SHA256 hex digest of the raw body.
type CardPro struct {
	secret string
}

func NewCardPro(secret string) *CardPro {
	return &CardPro{secret: secret}
}

func (a *CardPro) Name() string { return CardProName }

func (a *CardPro) Verify(payload []byte, signature string) bool {
	if signature == "" || a.secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type cardProPayload struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	CardLast4     string `json:"card_last4,omitempty"`
	AuthCode      string `json:"auth_code,omitempty"`
}

func (a *CardPro) Normalize(payload []byte) (*PaymentEvent, error) {
	var body cardProPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "decode cardpro payload")
	}
	if strings.TrimSpace(body.TransactionID) == "" {
		return nil, errors.New(errors.CodeMalformedPayload, "cardpro payload missing transaction_id")
	}
	orderID, err := uuid.Parse(body.OrderID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "cardpro payload order_id")
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "cardpro payload amount")
	}
	currency, err := enums.ParseCurrency(body.Currency)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedPayload, err, "cardpro payload currency")
	}

	var outcome enums.PaymentOutcome
	switch body.Status {
	case "authorized", "captured":
		outcome = enums.PaymentOutcomeConfirmed
	case "declined", "voided":
		outcome = enums.PaymentOutcomeFailed
	case "pending":
		outcome = enums.PaymentOutcomeInitiated
	default:
		return nil, errors.New(errors.CodeMalformedPayload, "cardpro payload status unrecognized", map[string]any{
			"status": body.Status,
		})
	}

	meta, _ := json.Marshal(map[string]string{
		"card_last4": body.CardLast4,
		"auth_code":  body.AuthCode,
	})
	return &PaymentEvent{
		Provider:              CardProName,
		ExternalTransactionID: body.TransactionID,
		OrderID:               orderID,
		Amount:                amount,
		Currency:              currency,
		Outcome:               outcome,
		Metadata:              meta,
	}, nil
}
