package registry

import "strings"

// placeholders are caller-id values carriers and voice platforms send when the
// real number is withheld. They must never be used as a correlation key.
var placeholders = map[string]bool{
	"unknown":     true,
	"anonymous":   true,
	"restricted":  true,
	"private":     true,
	"unavailable": true,
	"null":        true,
	"undefined":   true,
	"none":        true,
}

// UsablePhone reports whether a caller number can serve as a correlation key
func UsablePhone(phone string) bool {
	p := strings.TrimSpace(phone)
	if p == "" || placeholders[strings.ToLower(p)] {
		return false
	}
	// "+", "0000..." and friends carry no identity either
	return strings.Trim(p, "+0 ") != ""
}

// CorrelationKey picks the key a transfer intent is stored under: the caller's
// phone number when usable, else the voice platform's call id.
func CorrelationKey(phone, externalCallID string) string {
	if UsablePhone(phone) {
		return "phone:" + strings.TrimSpace(phone)
	}
	return "call:" + strings.TrimSpace(externalCallID)
}

// LookupKeys returns the keys an inbound call should try, in order. A carrier
// event usually only knows the caller number; some trunks also forward the
// voice platform's call id.
func LookupKeys(phone, externalCallID string) []string {
	var keys []string
	if UsablePhone(phone) {
		keys = append(keys, "phone:"+strings.TrimSpace(phone))
	}
	if id := strings.TrimSpace(externalCallID); id != "" {
		keys = append(keys, "call:"+id)
	}
	return keys
}
