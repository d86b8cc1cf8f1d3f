package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/config"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/pkg/validator"
)

// SignatureHeader carries the hex HMAC-SHA256 of a mobile money callback body
const SignatureHeader = "X-Signature"

// MobileMoneyAdapter sends STK-style push prompts through a mobile money
// aggregator (M-Pesa, Airtel Money, MTN MoMo). With no base URL configured it
// runs as a sandbox that only issues references; callbacks are then posted by hand.
type MobileMoneyAdapter struct {
	config *config.MobileMoneyConfig
	phones *validator.PhoneValidator
	client *http.Client
	logger *logrus.Logger
}

type pushRequest struct {
	Reference   string `json:"reference"`
	MSISDN      string `json:"msisdn"`
	Network     string `json:"network"`
	Amount      int64  `json:"amount"` // minor units
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type pushResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"` // "queued", "rejected"
	Message       string `json:"message,omitempty"`
}

type mobileMoneyCallback struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"` // "SUCCESS", "FAILED", "PENDING"
	Amount        *int64 `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	ResultDesc    string `json:"result_desc,omitempty"`
}

// NewMobileMoneyAdapter creates a mobile money adapter
func NewMobileMoneyAdapter(cfg *config.MobileMoneyConfig, logger *logrus.Logger) *MobileMoneyAdapter {
	return &MobileMoneyAdapter{
		config: cfg,
		phones: validator.NewPhoneValidator(),
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (a *MobileMoneyAdapter) Family() models.MethodFamily {
	return models.FamilyMobileMoney
}

// Start pushes a payment prompt to the payer's handset
func (a *MobileMoneyAdapter) Start(ctx context.Context, req models.PaymentStartRequest) (*models.PaymentStartResult, error) {
	country := models.CountryForCurrency(req.Currency)
	msisdn, err := a.phones.Validate(req.PayerReference, country)
	if err != nil {
		return nil, models.NewValidationError("payer_reference", err.Error())
	}

	instructions := fmt.Sprintf("Approve the %s prompt sent to +%s", networkLabel(req.Method), msisdn)

	if a.config.BaseURL == "" {
		ref := "sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		a.logger.WithFields(logrus.Fields{
			"attempt_id":         req.AttemptID,
			"external_reference": ref,
			"msisdn":             msisdn,
		}).Info("Mobile money sandbox push issued")
		return &models.PaymentStartResult{
			ExternalReference: ref,
			Instructions:      instructions,
			Raw:               models.JSONB{"sandbox": true},
		}, nil
	}

	body, err := json.Marshal(pushRequest{
		Reference:   req.AttemptID,
		MSISDN:      msisdn,
		Network:     string(req.Method),
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		Description: req.Description,
		CallbackURL: a.config.CallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/push", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.AttemptID)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// connection failures and timeouts alike are worth another try
		return nil, &models.TransientProviderError{Provider: "mobile_money", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.TransientProviderError{Provider: "mobile_money", Err: err}
	}

	a.logger.WithFields(logrus.Fields{
		"attempt_id":  req.AttemptID,
		"status_code": resp.StatusCode,
	}).Info("Mobile money push response received")

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &models.TransientProviderError{
			Provider: "mobile_money",
			Err:      fmt.Errorf("aggregator returned status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mobile money push rejected with status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed pushResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse push response: %w", err)
	}
	if parsed.TransactionID == "" || strings.EqualFold(parsed.Status, "rejected") {
		return nil, fmt.Errorf("mobile money push rejected: %s", parsed.Message)
	}

	return &models.PaymentStartResult{
		ExternalReference: parsed.TransactionID,
		Instructions:      instructions,
		Raw:               models.JSONB{"status": parsed.Status, "message": parsed.Message},
	}, nil
}

// ParseCallback verifies the HMAC signature and decodes the result
func (a *MobileMoneyAdapter) ParseCallback(header http.Header, body []byte) (*models.CallbackMessage, error) {
	if a.config.WebhookSecret != "" {
		if !VerifyHMAC(a.config.WebhookSecret, body, header.Get(SignatureHeader)) {
			return nil, invalidSignature("mobile money", nil)
		}
	} else {
		a.logger.Warn("Mobile money webhook secret not configured, accepting unsigned callback")
	}

	var cb mobileMoneyCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, models.NewValidationError("body", "malformed mobile money callback")
	}
	if cb.TransactionID == "" {
		return nil, models.NewValidationError("transaction_id", "is required")
	}

	msg := &models.CallbackMessage{
		ExternalReference: cb.TransactionID,
		Reason:            cb.ResultDesc,
		AmountMinor:       cb.Amount,
		Raw: models.JSONB{
			"transaction_id": cb.TransactionID,
			"reference":      cb.Reference,
			"status":         cb.Status,
			"result_desc":    cb.ResultDesc,
		},
	}
	switch strings.ToUpper(cb.Status) {
	case "SUCCESS", "SUCCEEDED", "COMPLETED":
		msg.Outcome = models.CallbackSucceeded
	case "FAILED", "CANCELLED", "REJECTED", "EXPIRED":
		msg.Outcome = models.CallbackFailed
	default:
		msg.Outcome = models.CallbackPending
	}
	return msg, nil
}

// SignHMAC returns the hex HMAC-SHA256 of body under secret
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC compares signature against the expected HMAC in constant time
func VerifyHMAC(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(SignHMAC(secret, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

func networkLabel(method models.PaymentMethod) string {
	switch method {
	case models.MethodMpesa:
		return "M-Pesa"
	case models.MethodAirtelMoney:
		return "Airtel Money"
	case models.MethodMTNMoMo:
		return "MTN MoMo"
	}
	return "mobile money"
}
