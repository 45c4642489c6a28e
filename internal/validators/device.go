package validators

import (
	"context"
	"regexp"
	"strings"

	"github.com/orderguard/orderguard/internal/domain/decision"
	"github.com/orderguard/orderguard/internal/domain/model"
)

// Device reason codes.
const (
	DeviceEmptyUserAgent = "device_missing_ua"
	DeviceBot            = "device_bot"
	DeviceHeadless       = "device_headless"
	DeviceScriptClient   = "device_scripted_client"
	DeviceOutdated       = "device_outdated_browser"
	DeviceUnrecognised   = "device_unrecognised"
	DeviceOversized      = "device_oversized_user_agent"
	DeviceShortUA        = "device_short_ua"

	minUserAgentLen = 20
	maxUserAgentLen = 1024
)

var deviceReasons = map[string]string{
	DeviceEmptyUserAgent: "user agent is empty",
	DeviceBot:            "user agent identifies a crawler or bot",
	DeviceHeadless:       "user agent identifies a headless automation browser",
	DeviceScriptClient:   "user agent identifies a scripting library or command line client",
	DeviceOutdated:       "browser major version is far behind current releases",
	DeviceUnrecognised:   "user agent does not resemble a known browser",
	DeviceOversized:      "user agent is unusually long",
	DeviceShortUA:        "user agent is too short to describe a real browser",
}

var (
	botPattern      = regexp.MustCompile(`(?i)(bot|crawler|spider|slurp|crawl|monitor)\b`)
	headlessPattern = regexp.MustCompile(`(?i)(headlesschrome|phantomjs|selenium|puppeteer|playwright|webdriver)`)
	scriptPattern   = regexp.MustCompile(`(?i)^(curl|wget|python-requests|python-urllib|go-http-client|java/|okhttp|axios|node-fetch|libwww-perl|httpie)`)
	browserPattern  = regexp.MustCompile(`(?i)(mozilla/5\.0|opera/)`)
	chromeVersion   = regexp.MustCompile(`(?i)chrome/(\d+)`)
	firefoxVersion  = regexp.MustCompile(`(?i)firefox/(\d+)`)
)

// DeviceOptions configures the device validator.
type DeviceOptions struct {
	// MinChromeMajor and MinFirefoxMajor flag older browsers as outdated. Zero disables the check.
	MinChromeMajor  int
	MinFirefoxMajor int
}

// DeviceValidator scores the client user agent.
type DeviceValidator struct {
	minChrome  int
	minFirefox int
}

// NewDeviceValidator builds a device validator.
func NewDeviceValidator(opts DeviceOptions) *DeviceValidator {
	return &DeviceValidator{minChrome: opts.MinChromeMajor, minFirefox: opts.MinFirefoxMajor}
}

// Field implements decision.FieldValidator.
func (v *DeviceValidator) Field() model.FieldName { return model.FieldDevice }

// Normalize collapses whitespace.
func (v *DeviceValidator) Normalize(in model.FieldInput) (string, error) {
	ua := strings.Join(strings.Fields(in.Text), " ")
	if ua == "" {
		return "", decision.Malformed(DeviceEmptyUserAgent, "")
	}
	return ua, nil
}

// Score implements decision.FieldValidator.
func (v *DeviceValidator) Score(_ context.Context, ua string, _ decision.ValidationContext) (decision.Assessment, error) {
	var f findings
	switch {
	case headlessPattern.MatchString(ua):
		f.flag(DeviceHeadless, 0.7, false)
	case scriptPattern.MatchString(ua):
		f.flag(DeviceScriptClient, 0.7, false)
	case botPattern.MatchString(ua):
		f.flag(DeviceBot, 0.8, false)
	case !browserPattern.MatchString(ua):
		f.flag(DeviceUnrecognised, 0.35, false)
	}
	if len(ua) < minUserAgentLen {
		f.flag(DeviceShortUA, 0.2, false)
	}
	if len(ua) > maxUserAgentLen {
		f.flag(DeviceOversized, 0.2, false)
	}
	if outdated(chromeVersion, ua, v.minChrome) || outdated(firefoxVersion, ua, v.minFirefox) {
		f.flag(DeviceOutdated, 0.2, false)
	}
	return f.assessment(0.7), nil
}

// Explain implements decision.FieldValidator.
func (v *DeviceValidator) Explain(code string) string { return explain(deviceReasons, code) }

func outdated(re *regexp.Regexp, ua string, minMajor int) bool {
	if minMajor <= 0 {
		return false
	}
	m := re.FindStringSubmatch(ua)
	if m == nil {
		return false
	}
	major := 0
	for _, c := range m[1] {
		major = major*10 + int(c-'0')
		if major > 10000 {
			break
		}
	}
	return major < minMajor
}

var _ decision.FieldValidator = (*DeviceValidator)(nil)
