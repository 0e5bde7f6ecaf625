package providers

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucstore/ucstore-backend/pkg/enums"
)

// PaymentEvent is the canonical form every provider webhook normalizes to.
// Nothing downstream of the adapter knows provider-specific payload shapes.
type PaymentEvent struct {
	Provider              string               `json:"provider"`
	ExternalTransactionID string               `json:"external_transaction_id"`
	OrderID               uuid.UUID            `json:"order_id"`
	Amount                decimal.Decimal      `json:"amount"`
	Currency              enums.Currency       `json:"currency"`
	Outcome               enums.PaymentOutcome `json:"outcome"`
	Metadata              json.RawMessage      `json:"metadata,omitempty"`
}

// Adapter is the capability set one payment provider supplies. Verify is the
// trust boundary: a false return means the payload never touches state.
type Adapter interface {
	Name() string
	Verify(payload []byte, signature string) bool
	Normalize(payload []byte) (*PaymentEvent, error)
}

// SignatureHeader maps a provider name to the HTTP header carrying its
// authenticity proof.
func SignatureHeader(provider string) string {
	switch provider {
	case CardProName:
		return "X-Cardpro-Signature"
	case WalletIOName:
		return "X-Walletio-Token"
	case CryptoPayXName:
		return "X-Cpx-Digest"
	}
	return "X-Webhook-Signature"
}
