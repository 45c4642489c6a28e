package model

import "strings"

// FieldName identifies one validated data dimension.
type FieldName string

const (
	FieldEmail   FieldName = "email"
	FieldPhone   FieldName = "phone"
	FieldAddress FieldName = "address"
	FieldIP      FieldName = "ip"
	FieldDevice  FieldName = "device"
)

// AllFields lists validated fields in their canonical order.
func AllFields() []FieldName {
	return []FieldName{FieldEmail, FieldPhone, FieldAddress, FieldIP, FieldDevice}
}

// Known reports whether f is a validated field.
func (f FieldName) Known() bool {
	switch f {
	case FieldEmail, FieldPhone, FieldAddress, FieldIP, FieldDevice:
		return true
	}
	return false
}

// Address is a structured postal address.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Parts returns the address components keyed by their JSON names, omitting empty ones.
func (a Address) Parts() map[string]string {
	parts := make(map[string]string, 6)
	add := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			parts[k] = v
		}
	}
	add("line1", a.Line1)
	add("line2", a.Line2)
	add("city", a.City)
	add("region", a.Region)
	add("postal_code", a.PostalCode)
	add("country", a.Country)
	return parts
}

// String joins the non-empty components into one line.
func (a Address) String() string {
	var b strings.Builder
	for _, v := range []string{a.Line1, a.Line2, a.City, a.Region, a.PostalCode, a.Country} {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v)
	}
	return b.String()
}

// ValidationPayload is the typed input to the decision engine. Every slot is optional.
type ValidationPayload struct {
	Email             *string           `json:"email,omitempty"`
	Phone             *string           `json:"phone,omitempty"`
	Address           *Address          `json:"address,omitempty"`
	Name              *string           `json:"name,omitempty"`
	IP                *string           `json:"ip,omitempty"`
	UserAgent         *string           `json:"user_agent,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	TransactionAmount *float64          `json:"transaction_amount,omitempty"`
	Currency          *string           `json:"currency,omitempty"`
}

// PayloadKeys lists the JSON keys of ValidationPayload, used to validate field mappings.
func PayloadKeys() []string {
	return []string{
		"email", "phone", "address", "name", "ip", "user_agent",
		"metadata", "transaction_amount", "currency",
	}
}

// IsPayloadKey reports whether k names a ValidationPayload slot.
func IsPayloadKey(k string) bool {
	for _, key := range PayloadKeys() {
		if key == k {
			return true
		}
	}
	return false
}

// FieldInput is the value handed to a field validator.
// Text carries scalar values; Parts carries structured components such as address lines.
type FieldInput struct {
	Text  string
	Parts map[string]string
}

// FieldInputs returns the validator input for every field present in the payload.
func (p *ValidationPayload) FieldInputs() map[FieldName]FieldInput {
	inputs := make(map[FieldName]FieldInput, 5)
	if p == nil {
		return inputs
	}
	if p.Email != nil {
		inputs[FieldEmail] = FieldInput{Text: *p.Email}
	}
	if p.Phone != nil {
		inputs[FieldPhone] = FieldInput{Text: *p.Phone}
	}
	if p.Address != nil {
		inputs[FieldAddress] = FieldInput{Text: p.Address.String(), Parts: p.Address.Parts()}
	}
	if p.IP != nil {
		inputs[FieldIP] = FieldInput{Text: *p.IP}
	}
	if p.UserAgent != nil {
		inputs[FieldDevice] = FieldInput{Text: *p.UserAgent}
	}
	return inputs
}

// MetadataValue returns a trimmed metadata entry or "".
func (p *ValidationPayload) MetadataValue(key string) string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(p.Metadata[key])
}
