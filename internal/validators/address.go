package validators

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/orderguard/orderguard/internal/domain/decision"
	"github.com/orderguard/orderguard/internal/domain/model"
)

// Address reason codes.
const (
	AddressMissingComponent = "address_incomplete"
	AddressUnknownCountry   = "address_country_unknown"
	AddressInvalidPostal    = "address_postal_mismatch"
	AddressPOBox            = "address_po_box"
	AddressNotDeliverable   = "address_not_deliverable"
	AddressGeocodeFailed    = "address_geocode_failed"
	AddressFreightForwarder = "address_freight_forwarder"
)

var addressReasons = map[string]string{
	AddressMissingComponent: "a required address component is missing",
	AddressUnknownCountry:   "country is not an ISO 3166 alpha-2 code",
	AddressInvalidPostal:    "postal code does not match the country format",
	AddressPOBox:            "address is a post office box",
	AddressNotDeliverable:   "geocoder could not resolve a deliverable location",
	AddressGeocodeFailed:    "geocoder lookup failed",
	AddressFreightForwarder: "address line names a parcel forwarding service",
}

var (
	postalFormats = map[string]*regexp.Regexp{
		"US": regexp.MustCompile(`^\d{5}(-\d{4})?$`),
		"CA": regexp.MustCompile(`^[A-Z]\d[A-Z] ?\d[A-Z]\d$`),
		"GB": regexp.MustCompile(`^[A-Z]{1,2}\d[A-Z\d]? ?\d[A-Z]{2}$`),
		"DE": regexp.MustCompile(`^\d{5}$`),
		"FR": regexp.MustCompile(`^\d{5}$`),
		"NL": regexp.MustCompile(`^\d{4} ?[A-Z]{2}$`),
		"AU": regexp.MustCompile(`^\d{4}$`),
		"JP": regexp.MustCompile(`^\d{3}-?\d{4}$`),
	}
	poBoxPattern     = regexp.MustCompile(`(?i)\b(p\.?\s*o\.?\s*box|post\s+office\s+box|postfach|apartado)\b`)
	forwarderPattern = regexp.MustCompile(`(?i)\b(shipito|myus|stackry|planet\s+express|parcl)\b`)
)

// iso2 holds the ISO 3166-1 alpha-2 codes accepted as address countries.
var iso2 = func() map[string]struct{} {
	codes := strings.Fields(`
		AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ BA BB BD BE BF BG BH BI BJ BL BM BN BO BQ BR BS
		BT BV BW BY BZ CA CC CD CF CG CH CI CK CL CM CN CO CR CU CV CW CX CY CZ DE DJ DK DM DO DZ EC EE
		EG EH ER ES ET FI FJ FK FM FO FR GA GB GD GE GF GG GH GI GL GM GN GP GQ GR GS GT GU GW GY HK HM
		HN HR HT HU ID IE IL IM IN IO IQ IR IS IT JE JM JO JP KE KG KH KI KM KN KP KR KW KY KZ LA LB LC
		LI LK LR LS LT LU LV LY MA MC MD ME MF MG MH MK ML MM MN MO MP MQ MR MS MT MU MV MW MX MY MZ NA
		NC NE NF NG NI NL NO NP NR NU NZ OM PA PE PF PG PH PK PL PM PN PR PS PT PW PY QA RE RO RS RU RW
		SA SB SC SD SE SG SH SI SJ SK SL SM SN SO SR SS ST SV SX SY SZ TC TD TF TG TH TJ TK TL TM TN TO
		TR TT TV TW TZ UA UG UM US UY UZ VA VC VE VG VI VN VU WF WS YE YT ZA ZM ZW`)
	m := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return m
}()

// GeocodeResult is what a geocoder reports for an address.
type GeocodeResult struct {
	Deliverable bool
	Residential bool
}

// ErrAddressNotFound is returned by a Geocoder that cannot resolve an address.
var ErrAddressNotFound = errors.New("address not found")

// Geocoder resolves structured addresses against an external source.
type Geocoder interface {
	Geocode(ctx context.Context, addr model.Address) (GeocodeResult, error)
}

// AddressOptions configures the address validator.
type AddressOptions struct {
	Geocoder Geocoder
}

// AddressValidator checks completeness, postal formats and delivery risk markers.
type AddressValidator struct {
	geocoder Geocoder
}

// NewAddressValidator builds an address validator.
func NewAddressValidator(opts AddressOptions) *AddressValidator {
	return &AddressValidator{geocoder: opts.Geocoder}
}

// Field implements decision.FieldValidator.
func (v *AddressValidator) Field() model.FieldName { return model.FieldAddress }

// Normalize requires line1, city, postal code and country and renders a canonical single line.
func (v *AddressValidator) Normalize(in model.FieldInput) (string, error) {
	addr := addressFromParts(in.Parts)
	var missing []string
	if addr.Line1 == "" {
		missing = append(missing, "line1")
	}
	if addr.City == "" {
		missing = append(missing, "city")
	}
	if addr.PostalCode == "" {
		missing = append(missing, "postal_code")
	}
	if addr.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return "", decision.Malformed(AddressMissingComponent, strings.Join(missing, ","))
	}
	return addr.String(), nil
}

// Score implements decision.FieldValidator.
func (v *AddressValidator) Score(ctx context.Context, _ string, vctx decision.ValidationContext) (decision.Assessment, error) {
	addr := addressFromParts(vctx.Input.Parts)
	var f findings

	if _, ok := iso2[addr.Country]; !ok {
		f.flag(AddressUnknownCountry, 0.4, true)
	}
	if re, ok := postalFormats[addr.Country]; ok {
		if !re.MatchString(addr.PostalCode) {
			f.flag(AddressInvalidPostal, 0.35, true)
		}
	}
	lines := addr.Line1 + " " + addr.Line2
	if poBoxPattern.MatchString(lines) {
		f.flag(AddressPOBox, 0.2, false)
	}
	if forwarderPattern.MatchString(lines) {
		f.flag(AddressFreightForwarder, 0.45, false)
	}

	if v.geocoder == nil {
		return f.assessment(0.75), nil
	}
	res, err := v.geocoder.Geocode(ctx, addr)
	switch {
	case errors.Is(err, ErrAddressNotFound):
		f.flag(AddressNotDeliverable, 0.5, true)
		return f.assessment(0.9), nil
	case err != nil:
		if ctx.Err() != nil {
			return decision.Assessment{}, fmt.Errorf("geocode: %w", ctx.Err())
		}
		f.flag(AddressGeocodeFailed, 0, false)
		return f.assessment(0.6), nil
	case !res.Deliverable:
		f.flag(AddressNotDeliverable, 0.5, true)
	}
	return f.assessment(0.95), nil
}

// Explain implements decision.FieldValidator.
func (v *AddressValidator) Explain(code string) string { return explain(addressReasons, code) }

func addressFromParts(parts map[string]string) model.Address {
	get := func(k string) string { return strings.Join(strings.Fields(parts[k]), " ") }
	return model.Address{
		Line1:      get("line1"),
		Line2:      get("line2"),
		City:       get("city"),
		Region:     strings.ToUpper(get("region")),
		PostalCode: strings.ToUpper(get("postal_code")),
		Country:    strings.ToUpper(get("country")),
	}
}

var streetAbbreviations = map[string]string{
	"street": "st", "avenue": "ave", "road": "rd", "boulevard": "blvd", "drive": "dr",
	"lane": "ln", "court": "ct", "place": "pl", "terrace": "ter", "highway": "hwy",
	"apartment": "apt", "suite": "ste", "north": "n", "south": "s", "east": "e", "west": "w",
}

// AddressKey builds a comparison key that ignores case, punctuation and common street abbreviations.
// It returns "" when line1 or the postal code and city are both absent.
func AddressKey(a model.Address) string {
	line := tokenize(a.Line1 + " " + a.Line2)
	for i, tok := range line {
		if abbr, ok := streetAbbreviations[tok]; ok {
			line[i] = abbr
		}
	}
	postal := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(a.PostalCode)), " ", "")
	city := strings.Join(tokenize(a.City), " ")
	if len(line) == 0 || (postal == "" && city == "") {
		return ""
	}
	locality := postal
	if locality == "" {
		locality = city
	}
	return strings.Join([]string{
		strings.Join(line, " "),
		locality,
		strings.ToUpper(strings.TrimSpace(a.Country)),
	}, "|")
}

// NameKey builds an order-insensitive key from a person's name.
func NameKey(name string) string {
	toks := tokenize(name)
	if len(toks) == 0 {
		return ""
	}
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var _ decision.FieldValidator = (*AddressValidator)(nil)
