package utils

import (
	"regexp"
	"strings"
)

var (
	phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// NormalizePhone — убираем пробелы/дефисы и ведущий "+".
// В БД исторически лежат оба варианта, сравнивать надо по голым цифрам.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(s)
	return strings.TrimPrefix(s, "+")
}

// PhoneForms — обе исторические формы записи номера: с "+" и без.
func PhoneForms(raw string) (bare, prefixed string) {
	bare = NormalizePhone(raw)
	return bare, "+" + bare
}

func LooksLikePhone(s string) bool {
	return phoneRe.MatchString(NormalizePhone(s)) && !strings.Contains(s, "@")
}

func LooksLikeEmail(s string) bool {
	return emailRe.MatchString(strings.TrimSpace(s))
}
