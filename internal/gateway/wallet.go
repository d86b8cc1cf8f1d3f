package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
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
)

// PAYableEnvironmentURLs maps environment names to their IPG endpoint URLs
var PAYableEnvironmentURLs = map[string]string{
	"dev":        "https://payable-ipg-dev.web.app/ipg/dev",
	"sandbox":    "https://sandboxipgpayment.payable.lk/ipg/sandbox",
	"production": "https://ipgpayment.payable.lk/ipg/pro",
}

// WalletAdapter sends the payer to a PAYable hosted checkout page
type WalletAdapter struct {
	config   *config.WalletConfig
	endpoint string
	logger   *logrus.Logger
	client   *http.Client
}

// payableRequest is sent to the IPG. merchantToken is never sent, it only
// feeds the check value.
type payableRequest struct {
	MerchantKey        string `json:"merchantKey"`
	LogoURL            string `json:"logoUrl,omitempty"`
	ReturnURL          string `json:"returnUrl"`
	WebhookURL         string `json:"webhookUrl,omitempty"`
	PaymentType        int    `json:"paymentType"` // 1 = one-time
	InvoiceID          string `json:"invoiceId"`
	Amount             string `json:"amount"`
	CurrencyCode       string `json:"currencyCode"`
	OrderDescription   string `json:"orderDescription,omitempty"`
	CustomerEmail      string `json:"customerEmail"`
	CheckValue         string `json:"checkValue"`
	IntegrationType    string `json:"integrationType"`
	IntegrationVersion string `json:"integrationVersion"`
}

type payableResponse struct {
	Status          string `json:"status"`
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
	PaymentPage     string `json:"paymentPage"`
	Message         string `json:"message,omitempty"`
}

type payableWebhook struct {
	UID           string `json:"uid"`
	InvoiceID     string `json:"invoiceId"`
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode"`
	PaymentStatus string `json:"paymentStatus"` // "SUCCESS", "FAILED", "CANCELLED"
	TransactionID string `json:"transactionId,omitempty"`
	CheckValue    string `json:"checkValue"`
}

// NewWalletAdapter creates a PAYable wallet adapter. endpoint overrides the
// environment URL when non-empty.
func NewWalletAdapter(cfg *config.WalletConfig, endpoint string, logger *logrus.Logger) *WalletAdapter {
	if endpoint == "" {
		var ok bool
		endpoint, ok = PAYableEnvironmentURLs[cfg.Environment]
		if !ok {
			endpoint = PAYableEnvironmentURLs["sandbox"]
		}
	}
	return &WalletAdapter{
		config:   cfg,
		endpoint: endpoint,
		logger:   logger,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *WalletAdapter) Family() models.MethodFamily {
	return models.FamilyWallet
}

// IsConfigured returns true if merchant credentials are present
func (a *WalletAdapter) IsConfigured() bool {
	return a.config.MerchantKey != "" && a.config.MerchantToken != ""
}

// CheckValue is the SHA-512 signature PAYable expects:
// upper(hex(SHA512("merchantKey|part1|...|upper(hex(SHA512(merchantToken)))")))
func (a *WalletAdapter) CheckValue(parts ...string) string {
	hash1 := sha512.Sum512([]byte(a.config.MerchantToken))
	fields := append([]string{a.config.MerchantKey}, parts...)
	fields = append(fields, strings.ToUpper(hex.EncodeToString(hash1[:])))

	hash2 := sha512.Sum512([]byte(strings.Join(fields, "|")))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// Start registers the invoice and returns the hosted payment page
func (a *WalletAdapter) Start(ctx context.Context, req models.PaymentStartRequest) (*models.PaymentStartResult, error) {
	amount := models.FormatMinor(req.AmountMinor, req.Currency)

	if !a.IsConfigured() {
		uid := "wl_sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		return &models.PaymentStartResult{
			ExternalReference: uid,
			RedirectURL:       a.config.ReturnURL + "?sandbox=1&uid=" + uid,
			Raw:               models.JSONB{"sandbox": true},
		}, nil
	}

	email := req.PayerReference
	if !strings.Contains(email, "@") {
		email = "customer@smarttransit.lk"
	}

	payload := payableRequest{
		MerchantKey:        a.config.MerchantKey,
		LogoURL:            a.config.LogoURL,
		ReturnURL:          a.config.ReturnURL,
		WebhookURL:         a.config.WebhookURL,
		PaymentType:        1,
		InvoiceID:          req.AttemptID,
		Amount:             amount,
		CurrencyCode:       req.Currency,
		OrderDescription:   req.Description,
		CustomerEmail:      email,
		CheckValue:         a.CheckValue(req.AttemptID, amount, req.Currency),
		IntegrationType:    "SmartTransit",
		IntegrationVersion: "2.0.0",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	a.logger.WithFields(logrus.Fields{
		"attempt_id": req.AttemptID,
		"amount":     amount,
		"currency":   req.Currency,
	}).Info("Initiating PAYable payment")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &models.TransientProviderError{Provider: "payable", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.TransientProviderError{Provider: "payable", Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &models.TransientProviderError{
			Provider: "payable",
			Err:      fmt.Errorf("payment gateway returned status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed payableResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// PAYable answers "PENDING" once the page is ready, "success" on some accounts
	if parsed.Status != "success" && parsed.Status != "PENDING" {
		msg := parsed.Message
		if msg == "" {
			msg = "status=" + parsed.Status
		}
		return nil, fmt.Errorf("payment initiation failed: %s", msg)
	}
	if parsed.PaymentPage == "" || parsed.UID == "" {
		return nil, fmt.Errorf("payment initiation failed: no payment page returned")
	}

	a.logger.WithFields(logrus.Fields{
		"attempt_id":         req.AttemptID,
		"external_reference": parsed.UID,
	}).Info("PAYable payment initiated successfully")

	return &models.PaymentStartResult{
		ExternalReference: parsed.UID,
		RedirectURL:       parsed.PaymentPage,
		Raw:               models.JSONB{"status_indicator": parsed.StatusIndicator},
	}, nil
}

// ParseCallback validates the webhook check value and maps the payment status
func (a *WalletAdapter) ParseCallback(_ http.Header, body []byte) (*models.CallbackMessage, error) {
	var payload payableWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, models.NewValidationError("body", "invalid webhook payload")
	}
	if payload.UID == "" || payload.InvoiceID == "" {
		return nil, models.NewValidationError("uid", "webhook missing required fields")
	}

	if a.IsConfigured() {
		expected := a.CheckValue(payload.UID, payload.InvoiceID, payload.Amount, payload.CurrencyCode, payload.PaymentStatus)
		if !strings.EqualFold(expected, payload.CheckValue) {
			return nil, invalidSignature("payable", nil)
		}
	}

	msg := &models.CallbackMessage{
		ExternalReference: payload.UID,
		Raw: models.JSONB{
			"invoice_id":     payload.InvoiceID,
			"payment_status": payload.PaymentStatus,
			"transaction_id": payload.TransactionID,
			"amount":         payload.Amount,
		},
	}
	if minor, ok := parseMajor(payload.Amount, payload.CurrencyCode); ok {
		msg.AmountMinor = &minor
	}

	switch strings.ToUpper(payload.PaymentStatus) {
	case "SUCCESS":
		msg.Outcome = models.CallbackSucceeded
	case "FAILED", "CANCELLED":
		msg.Outcome = models.CallbackFailed
		msg.Reason = "wallet payment " + strings.ToLower(payload.PaymentStatus)
	default:
		msg.Outcome = models.CallbackPending
	}
	return msg, nil
}

// parseMajor reads a decimal amount string ("1500.00") into minor units
func parseMajor(amount, currency string) (int64, bool) {
	if amount == "" {
		return 0, false
	}
	var whole, frac int64
	parts := strings.SplitN(amount, ".", 2)
	if _, err := fmt.Sscanf(parts[0], "%d", &whole); err != nil {
		return 0, false
	}
	exp := models.CurrencyExponent(currency)
	if len(parts) == 2 && exp > 0 {
		digits := (parts[1] + "00")[:exp]
		if _, err := fmt.Sscanf(digits, "%d", &frac); err != nil {
			return 0, false
		}
	}
	scale := int64(1)
	for i := 0; i < exp; i++ {
		scale *= 10
	}
	return whole*scale + frac, true
}
