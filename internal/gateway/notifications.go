package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrBadSignature is returned when a webhook payload fails HMAC
// verification. The request must be rejected and never retried.
var ErrBadSignature = errors.New("webhook signature mismatch")

// Gateway transaction statuses as they appear in notifications and in
// GetPayment responses.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
	StatusRefunded  = "refunded"
)

// Notification is the closed set of gateway lifecycle events. The
// settlement processor dispatches on the concrete type, one variant per
// event, instead of branching on raw event-type strings.
type Notification interface {
	isNotification()
}

// PaymentSucceeded reports that money has been captured.
type PaymentSucceeded struct {
	TransactionID string
}

// PaymentFailed reports a terminal payment failure.
type PaymentFailed struct {
	TransactionID string
	Reason        string
}

// PaymentCanceled reports that the payer abandoned the transaction.
type PaymentCanceled struct {
	TransactionID string
}

// PaymentRefunded reports that a settled transaction was refunded.
type PaymentRefunded struct {
	TransactionID string
}

// AccountUpdated reports a change to a payer account.
type AccountUpdated struct {
	AccountRef string
	Status     string
}

func (PaymentSucceeded) isNotification() {}
func (PaymentFailed) isNotification()    {}
func (PaymentCanceled) isNotification()  {}
func (PaymentRefunded) isNotification()  {}
func (AccountUpdated) isNotification()   {}

type notificationEnvelope struct {
	Type string `json:"type"`
	Data struct {
		TransactionID string `json:"transaction_id"`
		Reason        string `json:"reason"`
		AccountRef    string `json:"account_ref"`
		Status        string `json:"status"`
	} `json:"data"`
}

// VerifySignature checks the hex-encoded HMAC-SHA256 signature the
// gateway attaches to each webhook delivery. It must be called on the
// raw body before any parsing.
func VerifySignature(body []byte, signature, secret string) error {
	signatureBytes, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, signatureBytes) != 1 {
		return ErrBadSignature
	}
	return nil
}

// SignPayload computes the signature the gateway would attach to the
// given body. Used by tests and local tooling.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseNotification decodes a verified webhook payload into its typed
// variant. Unknown event types are an error so new gateway events fail
// loudly instead of being half-handled.
func ParseNotification(body []byte) (Notification, error) {
	var envelope notificationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal notification")
	}

	switch envelope.Type {
	case "payment.succeeded":
		if envelope.Data.TransactionID == "" {
			return nil, errors.New("payment.succeeded notification without transaction id")
		}
		return PaymentSucceeded{TransactionID: envelope.Data.TransactionID}, nil
	case "payment.failed":
		if envelope.Data.TransactionID == "" {
			return nil, errors.New("payment.failed notification without transaction id")
		}
		return PaymentFailed{TransactionID: envelope.Data.TransactionID, Reason: envelope.Data.Reason}, nil
	case "payment.canceled":
		if envelope.Data.TransactionID == "" {
			return nil, errors.New("payment.canceled notification without transaction id")
		}
		return PaymentCanceled{TransactionID: envelope.Data.TransactionID}, nil
	case "payment.refunded":
		if envelope.Data.TransactionID == "" {
			return nil, errors.New("payment.refunded notification without transaction id")
		}
		return PaymentRefunded{TransactionID: envelope.Data.TransactionID}, nil
	case "account.updated":
		return AccountUpdated{AccountRef: envelope.Data.AccountRef, Status: envelope.Data.Status}, nil
	default:
		return nil, errors.Errorf("unknown notification type %q", envelope.Type)
	}
}

// NotificationForStatus translates a polled transaction status into the
// equivalent notification. Returns false while the transaction is still
// pending or the status is unknown.
func NotificationForStatus(transactionID, status string) (Notification, bool) {
	switch status {
	case StatusSucceeded:
		return PaymentSucceeded{TransactionID: transactionID}, true
	case StatusFailed:
		return PaymentFailed{TransactionID: transactionID}, true
	case StatusCanceled:
		return PaymentCanceled{TransactionID: transactionID}, true
	case StatusRefunded:
		return PaymentRefunded{TransactionID: transactionID}, true
	default:
		return nil, false
	}
}
