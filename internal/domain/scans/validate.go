package scans

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// punctuation and whitespace admitted next to letters and digits
const allowedExtra = ":/?=&,;@+" + "-._~%#" + " \t\r\n"

// characters rejected in free text
const textForbidden = "<>\"'&"

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,64}$`)

// Validate checks raw against the global preconditions and then the grammar
// of t. It is pure: identical input always yields an identical result.
func Validate(raw string, t ContentType) error {
	if err := validateEnvelope(raw); err != nil {
		return err
	}

	switch t {
	case ContentURL:
		return validateURL(raw)
	case ContentWifi:
		return validateWifi(raw)
	case ContentContact:
		return validateContact(raw)
	case ContentPhone:
		return validatePhone(raw)
	case ContentEmail:
		return validateEmail(raw)
	case ContentSMS:
		return validateSMS(raw)
	default:
		return validateText(raw)
	}
}

func validateEnvelope(raw string) error {
	if raw == "" {
		return invalid(InvalidFormat, "empty payload")
	}
	if !utf8.ValidString(raw) {
		return invalid(InvalidFormat, "payload is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(raw); n > MaxContentLength {
		return invalid(InvalidFormat, "payload exceeds 2048 characters")
	}
	for _, r := range raw {
		if isAlphanumeric(r) || strings.ContainsRune(allowedExtra, r) {
			continue
		}
		return invalid(InvalidCharacters, "disallowed character "+strconv.QuoteRune(r))
	}
	return nil
}

func isAlphanumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsNumber(r) || unicode.IsMark(r)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalid(InvalidURL, err.Error())
	}
	if u.Scheme != "https" {
		return invalid(InvalidURL, "scheme must be https")
	}
	if u.Host == "" || u.Hostname() == "" {
		return invalid(InvalidURL, "missing host")
	}
	return nil
}

func validateWifi(raw string) error {
	body := strings.TrimPrefix(raw, "WIFI:")
	var ssid, security bool
	for _, f := range strings.Split(body, ";") {
		switch {
		case strings.HasPrefix(f, "S:"):
			ssid = true
		case strings.HasPrefix(f, "T:"):
			security = true
		}
	}
	if !ssid || !security {
		return invalid(InvalidWifiConfig, "S: and T: fields are required")
	}
	return nil
}

func validateContact(raw string) error {
	if !strings.Contains(raw, "BEGIN:VCARD") || !strings.Contains(raw, "END:VCARD") {
		return invalid(InvalidContact, "missing BEGIN:VCARD/END:VCARD")
	}
	if !strings.Contains(raw, "VERSION:") {
		return invalid(InvalidContact, "missing VERSION field")
	}
	return nil
}

func validatePhone(raw string) error {
	if !isPhoneNumber(strings.TrimPrefix(raw, "tel:")) {
		return invalid(InvalidPhone, "expected + followed by at least 10 digits")
	}
	return nil
}

// isPhoneNumber keeps digits and '+' only; the result must start with '+'
// and carry at least 10 digits.
func isPhoneNumber(s string) bool {
	var b strings.Builder
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
			b.WriteRune(r)
		case r == '+':
			b.WriteRune(r)
		}
	}
	return strings.HasPrefix(b.String(), "+") && digits >= 10
}

func validateEmail(raw string) error {
	if !emailPattern.MatchString(strings.TrimPrefix(raw, "mailto:")) {
		return invalid(InvalidEmail, "malformed address")
	}
	return nil
}

func validateSMS(raw string) error {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 {
		return invalid(InvalidSMS, "missing number segment")
	}
	number, _, _ := strings.Cut(parts[1], "?")
	if !isPhoneNumber(number) {
		return invalid(InvalidSMS, "expected + followed by at least 10 digits")
	}
	return nil
}

func validateText(raw string) error {
	if i := strings.IndexAny(raw, textForbidden); i >= 0 {
		r, _ := utf8.DecodeRuneInString(raw[i:])
		return invalid(InvalidCharacters, "disallowed character "+strconv.QuoteRune(r))
	}
	return nil
}
