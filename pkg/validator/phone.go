package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrInvalidLength indicates the subscriber number has the wrong number of digits
	ErrInvalidLength = errors.New("phone number has the wrong number of digits for its country")

	// ErrInvalidPrefix indicates the number is not on a mobile range
	ErrInvalidPrefix = errors.New("phone number is not a mobile number")

	// ErrUnsupportedCountry indicates no numbering plan is known for the country
	ErrUnsupportedCountry = errors.New("unsupported country for mobile numbers")
)

// numberingPlan describes mobile numbers for one country
type numberingPlan struct {
	dialCode       string
	subscriberLen  int               // digits after the dial code (no trunk 0)
	mobilePrefixes []string          // leading digits of the subscriber number
	networks       map[string]string // 2-digit subscriber prefix -> network
}

// plans contains the mobile numbering plans of the markets we take mobile money in
var plans = map[string]numberingPlan{
	"KE": {dialCode: "254", subscriberLen: 9, mobilePrefixes: []string{"7", "1"},
		networks: map[string]string{"70": "Safaricom", "71": "Safaricom", "72": "Safaricom", "79": "Safaricom",
			"11": "Safaricom", "73": "Airtel", "75": "Airtel", "78": "Airtel", "10": "Airtel"}},
	"UG": {dialCode: "256", subscriberLen: 9, mobilePrefixes: []string{"7"},
		networks: map[string]string{"77": "MTN", "78": "MTN", "76": "MTN", "70": "Airtel", "75": "Airtel", "74": "Airtel"}},
	"TZ": {dialCode: "255", subscriberLen: 9, mobilePrefixes: []string{"6", "7"},
		networks: map[string]string{"74": "Vodacom", "75": "Vodacom", "76": "Vodacom", "68": "Airtel", "69": "Airtel", "78": "Airtel"}},
	"RW": {dialCode: "250", subscriberLen: 9, mobilePrefixes: []string{"7"},
		networks: map[string]string{"78": "MTN", "79": "MTN", "72": "Airtel", "73": "Airtel"}},
	"GH": {dialCode: "233", subscriberLen: 9, mobilePrefixes: []string{"2", "5"},
		networks: map[string]string{"24": "MTN", "54": "MTN", "55": "MTN", "59": "MTN", "26": "AirtelTigo", "27": "AirtelTigo"}},
	"LK": {dialCode: "94", subscriberLen: 9, mobilePrefixes: []string{"7"},
		networks: map[string]string{"70": "Mobitel", "71": "Mobitel", "72": "Hutch", "78": "Hutch", "75": "Airtel", "76": "Dialog", "77": "Dialog"}},
}

// phoneRegex matches digits only
var phoneRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator normalises mobile numbers to international digits (MSISDN)
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate checks a mobile number for country (ISO 3166 alpha-2).
// Accepts 0712345678, 712345678, +254 712 345 678 or 254-712-345678.
// Returns the MSISDN (dial code + subscriber digits, no plus sign).
func (v *PhoneValidator) Validate(phone, country string) (string, error) {
	if phone == "" {
		return "", ErrEmptyPhone
	}

	plan, ok := plans[strings.ToUpper(country)]
	if !ok {
		return "", ErrUnsupportedCountry
	}

	sanitized := v.Sanitize(phone)
	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	subscriber := sanitized
	switch {
	case strings.HasPrefix(subscriber, plan.dialCode) && len(subscriber) == len(plan.dialCode)+plan.subscriberLen:
		subscriber = subscriber[len(plan.dialCode):]
	case strings.HasPrefix(subscriber, "0") && len(subscriber) == plan.subscriberLen+1:
		subscriber = subscriber[1:]
	}

	if len(subscriber) != plan.subscriberLen {
		return "", ErrInvalidLength
	}

	if !hasAnyPrefix(subscriber, plan.mobilePrefixes) {
		return "", ErrInvalidPrefix
	}

	return plan.dialCode + subscriber, nil
}

// Sanitize removes all separators from a phone number
func (v *PhoneValidator) Sanitize(phone string) string {
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")
	phone = strings.ReplaceAll(phone, "(", "")
	phone = strings.ReplaceAll(phone, ")", "")
	phone = strings.ReplaceAll(phone, "+", "")
	phone = strings.ReplaceAll(phone, ".", "")
	return phone
}

// Format returns the number in display form: +254 712 345 678
func (v *PhoneValidator) Format(phone, country string) (string, error) {
	msisdn, err := v.Validate(phone, country)
	if err != nil {
		return "", err
	}
	plan := plans[strings.ToUpper(country)]
	sub := msisdn[len(plan.dialCode):]
	return fmt.Sprintf("+%s %s %s %s", plan.dialCode, sub[0:3], sub[3:6], sub[6:]), nil
}

// GetNetwork returns the mobile network operator for the number, if known
func (v *PhoneValidator) GetNetwork(phone, country string) (string, error) {
	msisdn, err := v.Validate(phone, country)
	if err != nil {
		return "", err
	}
	plan := plans[strings.ToUpper(country)]
	network, ok := plan.networks[msisdn[len(plan.dialCode):len(plan.dialCode)+2]]
	if !ok {
		return "", ErrInvalidPrefix
	}
	return network, nil
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone, country string) bool {
	_, err := v.Validate(phone, country)
	return err == nil
}

// SupportedCountry reports whether mobile numbers can be validated for country
func SupportedCountry(country string) bool {
	_, ok := plans[strings.ToUpper(country)]
	return ok
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
