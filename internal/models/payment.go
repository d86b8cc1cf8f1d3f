package models

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// PAYMENT METHODS
// ============================================================================

// MethodFamily groups payment rails that share a flow and timeout
type MethodFamily string

const (
	FamilyMobileMoney MethodFamily = "mobile_money" // push prompt to the payer's phone
	FamilyCard        MethodFamily = "card"         // direct card charge
	FamilyWallet      MethodFamily = "wallet"       // hosted redirect
)

// PaymentMethod is what the payer picks at checkout
type PaymentMethod string

const (
	MethodMpesa       PaymentMethod = "mpesa"
	MethodAirtelMoney PaymentMethod = "airtel_money"
	MethodMTNMoMo     PaymentMethod = "mtn_momo"
	MethodCard        PaymentMethod = "card"
	MethodWallet      PaymentMethod = "wallet"
)

type methodSpec struct {
	family    MethodFamily
	countries []string // empty means available everywhere
}

var methodCatalog = map[PaymentMethod]methodSpec{
	MethodMpesa:       {family: FamilyMobileMoney, countries: []string{"KE", "TZ"}},
	MethodAirtelMoney: {family: FamilyMobileMoney, countries: []string{"KE", "UG", "TZ", "RW"}},
	MethodMTNMoMo:     {family: FamilyMobileMoney, countries: []string{"UG", "GH", "RW"}},
	MethodCard:        {family: FamilyCard},
	MethodWallet:      {family: FamilyWallet},
}

var currencyCountries = map[string]string{
	"KES": "KE",
	"UGX": "UG",
	"TZS": "TZ",
	"RWF": "RW",
	"GHS": "GH",
	"LKR": "LK",
}

// CountryForCurrency infers the booking country from its currency, "" when unknown
func CountryForCurrency(currency string) string {
	return currencyCountries[strings.ToUpper(currency)]
}

// currencies that are not subdivided in practice
var zeroDecimalCurrencies = map[string]bool{
	"UGX": true,
	"RWF": true,
}

// CurrencyExponent is the number of minor-unit digits for currency
func CurrencyExponent(currency string) int {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// FormatMinor renders a minor-unit amount as a major-unit decimal string ("1500.00")
func FormatMinor(amount int64, currency string) string {
	if CurrencyExponent(currency) == 0 {
		return fmt.Sprintf("%d", amount)
	}
	sign := ""
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

// IsValid reports whether m is a known payment method
func (m PaymentMethod) IsValid() bool {
	_, ok := methodCatalog[m]
	return ok
}

// Family returns the rail family for m
func (m PaymentMethod) Family() MethodFamily {
	return methodCatalog[m].family
}

// PermittedIn reports whether m may be used in country.
// Card and wallet are universal fallbacks; mobile money is country scoped.
func (m PaymentMethod) PermittedIn(country string) bool {
	spec, ok := methodCatalog[m]
	if !ok {
		return false
	}
	if len(spec.countries) == 0 {
		return true
	}
	for _, c := range spec.countries {
		if c == country {
			return true
		}
	}
	return false
}

// PermittedMethods lists the methods a booking in currency may use
func PermittedMethods(currency string) []PaymentMethod {
	country := CountryForCurrency(currency)
	var out []PaymentMethod
	for _, m := range []PaymentMethod{MethodMpesa, MethodAirtelMoney, MethodMTNMoMo, MethodCard, MethodWallet} {
		if m.PermittedIn(country) {
			out = append(out, m)
		}
	}
	return out
}

// ============================================================================
// PAYMENT ATTEMPT (payment_attempts table)
// ============================================================================

// AttemptStatus tracks one try at collecting funds
type AttemptStatus string

const (
	AttemptInitiated           AttemptStatus = "initiated"
	AttemptPendingConfirmation AttemptStatus = "pending_confirmation"
	AttemptSucceeded           AttemptStatus = "succeeded"
	AttemptFailed              AttemptStatus = "failed"
	AttemptTimedOut            AttemptStatus = "timed_out"
)

// IsTerminal reports whether the attempt has resolved
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptSucceeded, AttemptFailed, AttemptTimedOut:
		return true
	}
	return false
}

// PaymentAttempt is one try at collecting funds for a booking
type PaymentAttempt struct {
	ID                string        `json:"id" db:"id"`
	BookingID         string        `json:"booking_id" db:"booking_id"`
	Sequence          int           `json:"sequence" db:"sequence"` // 1 for the first try, 2.. for retries
	Method            PaymentMethod `json:"method" db:"method"`
	Family            MethodFamily  `json:"family" db:"family"`
	Status            AttemptStatus `json:"status" db:"status"`
	ExternalReference *string       `json:"external_reference,omitempty" db:"external_reference"`
	AmountMinor       int64         `json:"amount_minor" db:"amount_minor"`
	Currency          string        `json:"currency" db:"currency"`
	PayerReference    string        `json:"payer_reference,omitempty" db:"payer_reference"`
	RedirectURL       *string       `json:"redirect_url,omitempty" db:"redirect_url"`
	FailureReason     *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	PendingAt         *time.Time    `json:"pending_at,omitempty" db:"pending_at"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ============================================================================
// ORCHESTRATOR INPUTS / OUTPUTS
// ============================================================================

// InitiatePaymentRequest is the POST /bookings/:id/pay body
type InitiatePaymentRequest struct {
	Method         PaymentMethod `json:"method" binding:"required"`
	PayerReference string        `json:"payer_reference,omitempty"` // MSISDN for mobile money, email for wallet
}

// PaymentInitiation is returned to the caller after a provider flow has started
type PaymentInitiation struct {
	Attempt      *PaymentAttempt `json:"attempt"`
	RedirectURL  string          `json:"redirect_url,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
}

// PaymentStartRequest is handed to a payment method adapter
type PaymentStartRequest struct {
	AttemptID      string
	BookingID      string
	Reference      string
	Method         PaymentMethod
	AmountMinor    int64
	Currency       string
	PayerReference string
	Description    string
}

// PaymentStartResult is the provider side handle of a started flow
type PaymentStartResult struct {
	ExternalReference string
	RedirectURL       string
	ClientSecret      string
	Instructions      string
	Raw               JSONB
}

// CallbackOutcome is the provider's verdict on an attempt
type CallbackOutcome string

const (
	CallbackSucceeded CallbackOutcome = "succeeded"
	CallbackFailed    CallbackOutcome = "failed"
	CallbackPending   CallbackOutcome = "pending" // informational, ignored
)

// CallbackMessage is a verified provider callback queued for the orchestrator
type CallbackMessage struct {
	Method            PaymentMethod   `json:"method"`
	ExternalReference string          `json:"external_reference"`
	Outcome           CallbackOutcome `json:"outcome"`
	Reason            string          `json:"reason,omitempty"`
	AmountMinor       *int64          `json:"amount_minor,omitempty"`
	Raw               JSONB           `json:"raw,omitempty"`
	ReceivedAt        time.Time       `json:"received_at"`
}
