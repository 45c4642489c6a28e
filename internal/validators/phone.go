package validators

import (
	"context"
	"strings"

	"github.com/orderguard/orderguard/internal/domain/decision"
	"github.com/orderguard/orderguard/internal/domain/model"
)

// Phone reason codes.
const (
	PhoneInvalidFormat    = "phone_invalid_format"
	PhoneInvalidLength    = "phone_invalid_length"
	PhoneRepeatedDigits   = "phone_repeated_digits"
	PhoneSequentialDigits = "phone_sequential_digits"
	PhonePremiumRate      = "phone_premium_rate"
	PhoneCountryMismatch  = "phone_country_mismatch"
	PhoneUnknownCountry   = "phone_unknown_country"
	PhoneTollFree         = "phone_toll_free"

	minE164Digits = 8
	maxE164Digits = 15
)

var phoneReasons = map[string]string{
	PhoneInvalidFormat:    "number contains characters that are not digits or separators",
	PhoneInvalidLength:    "number is outside the E.164 length range",
	PhoneRepeatedDigits:   "subscriber number is a single repeated digit",
	PhoneSequentialDigits: "subscriber number is an ascending digit run",
	PhonePremiumRate:      "number is in a premium rate range",
	PhoneCountryMismatch:  "calling code does not match the customer country",
	PhoneUnknownCountry:   "calling code is not recognised",
	PhoneTollFree:         "number is a toll free service number",
}

// callingCodes maps calling codes to ISO 3166 alpha-2 countries. NANP codes map to several.
var callingCodes = map[string][]string{
	"1":   {"US", "CA", "PR"},
	"7":   {"RU", "KZ"},
	"20":  {"EG"},
	"27":  {"ZA"},
	"31":  {"NL"},
	"32":  {"BE"},
	"33":  {"FR"},
	"34":  {"ES"},
	"36":  {"HU"},
	"39":  {"IT"},
	"40":  {"RO"},
	"41":  {"CH"},
	"43":  {"AT"},
	"44":  {"GB"},
	"45":  {"DK"},
	"46":  {"SE"},
	"47":  {"NO"},
	"48":  {"PL"},
	"49":  {"DE"},
	"52":  {"MX"},
	"54":  {"AR"},
	"55":  {"BR"},
	"61":  {"AU"},
	"62":  {"ID"},
	"63":  {"PH"},
	"64":  {"NZ"},
	"65":  {"SG"},
	"81":  {"JP"},
	"82":  {"KR"},
	"84":  {"VN"},
	"86":  {"CN"},
	"90":  {"TR"},
	"91":  {"IN"},
	"234": {"NG"},
	"351": {"PT"},
	"353": {"IE"},
	"358": {"FI"},
	"420": {"CZ"},
	"852": {"HK"},
	"971": {"AE"},
	"972": {"IL"},
}

// PhoneOptions configures the phone validator.
type PhoneOptions struct {
	// DefaultCallingCode is applied to numbers written without an international prefix.
	DefaultCallingCode string
}

// PhoneValidator normalizes numbers to E.164 and flags suspicious ranges.
type PhoneValidator struct {
	defaultCode string
}

// NewPhoneValidator builds a phone validator. The default calling code falls back to "1".
func NewPhoneValidator(opts PhoneOptions) *PhoneValidator {
	code := strings.TrimPrefix(strings.TrimSpace(opts.DefaultCallingCode), "+")
	if code == "" {
		code = "1"
	}
	return &PhoneValidator{defaultCode: code}
}

// Field implements decision.FieldValidator.
func (v *PhoneValidator) Field() model.FieldName { return model.FieldPhone }

// Normalize strips separators and returns "+<digits>".
func (v *PhoneValidator) Normalize(in model.FieldInput) (string, error) {
	raw := strings.TrimSpace(in.Text)
	if raw == "" {
		return "", decision.Malformed(PhoneInvalidFormat, "empty number")
	}

	// Drop an extension suffix.
	if i := strings.IndexAny(strings.ToLower(raw), "x#"); i > 0 {
		raw = strings.TrimSpace(raw[:i])
	}

	international := false
	switch {
	case strings.HasPrefix(raw, "+"):
		international = true
		raw = raw[1:]
	case strings.HasPrefix(raw, "00"):
		international = true
		raw = raw[2:]
	}

	var digits strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '/':
		default:
			return "", decision.Malformed(PhoneInvalidFormat, "unexpected character "+string(r))
		}
	}

	number := digits.String()
	if !international {
		number = strings.TrimPrefix(number, "0")
		if !(v.defaultCode == "1" && len(number) == 11 && number[0] == '1') {
			number = v.defaultCode + number
		}
	}
	if len(number) < minE164Digits || len(number) > maxE164Digits {
		return "", decision.Malformed(PhoneInvalidLength, number)
	}
	return "+" + number, nil
}

// Score implements decision.FieldValidator.
func (v *PhoneValidator) Score(_ context.Context, normalized string, vctx decision.ValidationContext) (decision.Assessment, error) {
	digits := strings.TrimPrefix(normalized, "+")
	code, countries := splitCallingCode(digits)
	subscriber := digits[len(code):]

	var f findings
	if code == "" {
		f.flag(PhoneUnknownCountry, 0.2, false)
		subscriber = digits
	}
	if repeated(subscriber) {
		f.flag(PhoneRepeatedDigits, 0.6, true)
	} else if ascending(subscriber) {
		f.flag(PhoneSequentialDigits, 0.5, true)
	}
	if premiumRate(code, subscriber) {
		f.flag(PhonePremiumRate, 0.5, false)
	}
	if tollFree(code, subscriber) {
		f.flag(PhoneTollFree, 0.15, false)
	}

	if country := expectedCountry(vctx.Payload); country != "" && len(countries) > 0 {
		if !containsString(countries, country) {
			f.flag(PhoneCountryMismatch, 0.3, false)
		}
	}

	confidence := 0.9
	if code == "" {
		confidence = 0.6
	}
	return f.assessment(confidence), nil
}

// Explain implements decision.FieldValidator.
func (v *PhoneValidator) Explain(code string) string { return explain(phoneReasons, code) }

// expectedCountry prefers metadata.country and falls back to the address country.
func expectedCountry(p *model.ValidationPayload) string {
	if p == nil {
		return ""
	}
	country := p.MetadataValue("country")
	if country == "" && p.Address != nil {
		country = strings.TrimSpace(p.Address.Country)
	}
	return strings.ToUpper(country)
}

// CallingCodeCountries returns the countries served by the calling code prefixing an E.164 number.
func CallingCodeCountries(e164 string) []string {
	_, countries := splitCallingCode(strings.TrimPrefix(e164, "+"))
	return countries
}

// splitCallingCode finds the longest known calling code prefix (codes are 1 to 3 digits).
func splitCallingCode(digits string) (string, []string) {
	for n := 3; n >= 1; n-- {
		if len(digits) <= n {
			continue
		}
		if countries, ok := callingCodes[digits[:n]]; ok {
			return digits[:n], countries
		}
	}
	return "", nil
}

func repeated(s string) bool {
	if len(s) < 4 {
		return false
	}
	return strings.Count(s, s[:1]) == len(s)
}

func ascending(s string) bool {
	if len(s) < 6 {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] != '0'+(s[i-1]-'0'+1)%10 {
			return false
		}
	}
	return true
}

func premiumRate(code, subscriber string) bool {
	switch code {
	case "1":
		return strings.HasPrefix(subscriber, "900") || strings.HasPrefix(subscriber, "976")
	case "44":
		return strings.HasPrefix(subscriber, "9")
	case "49":
		return strings.HasPrefix(subscriber, "900")
	case "33":
		return strings.HasPrefix(subscriber, "89")
	}
	return false
}

func tollFree(code, subscriber string) bool {
	switch code {
	case "1":
		for _, p := range []string{"800", "833", "844", "855", "866", "877", "888"} {
			if strings.HasPrefix(subscriber, p) {
				return true
			}
		}
	case "44":
		return strings.HasPrefix(subscriber, "800") || strings.HasPrefix(subscriber, "808")
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ decision.FieldValidator = (*PhoneValidator)(nil)
