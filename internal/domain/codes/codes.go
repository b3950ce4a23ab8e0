// Package codes validates and normalizes the pharmacy identifiers used on prescriptions and claims.
package codes

import (
	"strings"
	"unicode"
)

// npiPrefix is the ISO card-issuer prefix used for the NPI Luhn check
const npiPrefix = "80840"

// NormalizeNDC converts a 10-digit hyphenated NDC (4-4-2, 5-3-2, 5-4-1) or an
// 11-digit NDC into the 11-digit 5-4-2 form. It returns false when the input
// cannot be normalized unambiguously.
func NormalizeNDC(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if strings.Contains(s, "-") {
		parts := strings.Split(s, "-")
		if len(parts) != 3 {
			return "", false
		}
		for _, p := range parts {
			if p == "" || !allDigits(p) {
				return "", false
			}
		}
		l, p, k := parts[0], parts[1], parts[2]
		switch {
		case len(l) == 4 && len(p) == 4 && len(k) == 2:
			l = "0" + l
		case len(l) == 5 && len(p) == 3 && len(k) == 2:
			p = "0" + p
		case len(l) == 5 && len(p) == 4 && len(k) == 1:
			k = "0" + k
		case len(l) == 5 && len(p) == 4 && len(k) == 2:
		default:
			return "", false
		}
		return l + p + k, true
	}
	if len(s) == 11 && allDigits(s) {
		return s, true
	}
	return "", false
}

// FormatNDC renders an 11-digit NDC as 5-4-2
func FormatNDC(ndc11 string) string {
	if len(ndc11) != 11 {
		return ndc11
	}
	return ndc11[:5] + "-" + ndc11[5:9] + "-" + ndc11[9:]
}

// ValidNPI checks a 10-digit NPI using the Luhn algorithm over the 80840 prefix
func ValidNPI(npi string) bool {
	if len(npi) != 10 || !allDigits(npi) {
		return false
	}
	return luhnValid(npiPrefix + npi)
}

// ValidBIN checks a 6-digit processor BIN
func ValidBIN(bin string) bool {
	return len(bin) == 6 && allDigits(bin)
}

// ValidDEA checks a prescriber DEA registration number: two letters, seven
// digits, the last being the checksum of the first six.
func ValidDEA(dea string) bool {
	if len(dea) != 9 {
		return false
	}
	d := strings.ToUpper(dea)
	if !unicode.IsLetter(rune(d[0])) || !(unicode.IsLetter(rune(d[1])) || d[1] == '9') {
		return false
	}
	digits := d[2:]
	if !allDigits(digits) {
		return false
	}
	n := func(i int) int { return int(digits[i] - '0') }
	sum := n(0) + n(2) + n(4) + 2*(n(1)+n(3)+n(5))
	return sum%10 == n(6)
}

func luhnValid(s string) bool {
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
