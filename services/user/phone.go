package user

import (
	"regexp"
	"strings"
)

var nonDigit = regexp.MustCompile(`\D`)

// NormalizePhone joins the dial prefix and the local number into +<digits>.
// A number already starting with + keeps its own prefix.
func NormalizePhone(dial, phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+") {
		return "+" + nonDigit.ReplaceAllString(phone, "")
	}

	local := strings.TrimLeft(nonDigit.ReplaceAllString(phone, ""), "0")
	if local == "" {
		return ""
	}
	return "+" + nonDigit.ReplaceAllString(dial, "") + local
}

// ValidPhone accepts + followed by 8 to 15 digits.
func ValidPhone(phone string) bool {
	if !strings.HasPrefix(phone, "+") {
		return false
	}
	digits := phone[1:]
	if len(digits) < 8 || len(digits) > 15 {
		return false
	}
	return !nonDigit.MatchString(digits)
}
