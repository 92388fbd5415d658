package scans

import "strings"

// prefix rules, checked in order; first match wins
var classifyRules = []struct {
	prefix string
	typ    ContentType
}{
	{"http", ContentURL},
	{"WIFI:", ContentWifi},
	{"BEGIN:VCARD", ContentContact},
	{"tel:", ContentPhone},
	{"mailto:", ContentEmail},
	{"sms:", ContentSMS},
}

// Classify maps a raw decoded payload to its content type. It is total:
// anything without a recognised prefix is ContentText.
func Classify(raw string) ContentType {
	for _, r := range classifyRules {
		if strings.HasPrefix(raw, r.prefix) {
			return r.typ
		}
	}
	return ContentText
}
