package core

import (
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// NormalizeBatchDate turns the compact YYYYMMDD form printed on meal QR codes into
// YYYY-MM-DD. Any other input is returned trimmed but otherwise untouched.
func NormalizeBatchDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 8 && allDigits(s) {
		return s[0:4] + "-" + s[4:6] + "-" + s[6:8]
	}
	return s
}

// ValidDay reports whether s is a real calendar date in YYYY-MM-DD form.
func ValidDay(s string) bool {
	_, err := time.Parse(dayLayout, s)
	return err == nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// stamp is the ledger clock. Postgres keeps microseconds, so everything is truncated to match.
func stamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
