package bootworker

import "strings"

// NormalizeMAC strips colons and dashes and lowercases mac, the canonical
// form every BootEvent, cache key, and HTTP route segment uses.
func NormalizeMAC(mac string) string {
	cleaned := strings.NewReplacer(":", "", "-", "").Replace(mac)
	return strings.ToLower(cleaned)
}
