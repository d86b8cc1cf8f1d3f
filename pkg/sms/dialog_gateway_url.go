package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDialogURL is Dialog's URL campaign endpoint
const DefaultDialogURL = "https://e-sms.dialog.lk/api/v1/message-via-url/create/url-campaign"

// DialogURLGateway sends SMS through Dialog's GET request API (URL method).
// It authenticates with an esmsqk key instead of username/password.
type DialogURLGateway struct {
	apiURL string
	apiKey string // esmsqk key from Dialog portal
	mask   string // source address
	client *http.Client
	logger *logrus.Logger
}

// NewDialogURLGateway creates a new Dialog URL gateway instance
func NewDialogURLGateway(apiURL, apiKey, mask string, logger *logrus.Logger) *DialogURLGateway {
	if apiURL == "" {
		apiURL = DefaultDialogURL
	}
	return &DialogURLGateway{
		apiURL: apiURL,
		apiKey: apiKey,
		mask:   mask,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Send delivers message to an international-format number (digits only)
func (d *DialogURLGateway) Send(ctx context.Context, msisdn, message string) (string, error) {
	params := url.Values{}
	params.Add("esmsqk", d.apiKey)
	params.Add("list", msisdn)
	params.Add("source_address", d.mask)
	params.Add("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build SMS request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read SMS response: %w", err)
	}
	responseStr := strings.TrimSpace(string(body))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("SMS API returned status %d: %s", resp.StatusCode, responseStr)
	}

	// Dialog returns "1" for success, or an error id for failure
	if responseStr != "1" {
		return "", fmt.Errorf("SMS sending failed with error code: %s", responseStr)
	}

	transactionID := strconv.FormatInt(time.Now().Unix(), 10)
	d.logger.WithFields(logrus.Fields{
		"msisdn":         msisdn,
		"transaction_id": transactionID,
	}).Info("SMS sent")
	return transactionID, nil
}

// Name returns the name of this SMS gateway
func (d *DialogURLGateway) Name() string {
	return "Dialog URL Gateway"
}
