package validators

import "github.com/orderguard/orderguard/internal/domain/decision"

// SetOptions configures the stock validator set.
type SetOptions struct {
	Email   EmailOptions
	Phone   PhoneOptions
	Address AddressOptions
	IP      IPOptions
	Device  DeviceOptions
}

// NewSet returns one validator per stock field.
func NewSet(opts SetOptions) []decision.FieldValidator {
	return []decision.FieldValidator{
		NewEmailValidator(opts.Email),
		NewPhoneValidator(opts.Phone),
		NewAddressValidator(opts.Address),
		NewIPValidator(opts.IP),
		NewDeviceValidator(opts.Device),
	}
}
