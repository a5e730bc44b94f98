// redact — помощники для безопасного логирования чувствительных значений.
// Токены, пароли и отпечатки устройств в логи не попадают никогда;
// email маскируется до первых двух символов локальной части.
package redact

import "strings"

func Email(s string) string {
	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return "***"
	}

	local, domain := parts[0], parts[1]
	if runes := []rune(local); len(runes) > 2 {
		local = string(runes[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

func Token() string       { return "[REDACTED_TOKEN]" }
func Password() string    { return "[REDACTED_PASSWORD]" }
func Fingerprint() string { return "[REDACTED_FINGERPRINT]" }
