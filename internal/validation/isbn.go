// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidISBN проверяет контрольную сумму ISBN-10 или ISBN-13.
// Дефисы и пробелы в номере допускаются и игнорируются.
func IsValidISBN(isbn string) bool {
	digits := make([]rune, 0, 13)
	for _, ch := range isbn {
		if ch == '-' || ch == ' ' {
			continue
		}
		digits = append(digits, ch)
	}

	switch len(digits) {
	case 10:
		return isValidISBN10(digits)
	case 13:
		return isValidISBN13(digits)
	default:
		return false
	}
}

func isValidISBN10(digits []rune) bool {
	sum := 0
	for i, ch := range digits {
		var v int
		switch {
		case unicode.IsDigit(ch):
			v = int(ch - '0')
		case i == 9 && (ch == 'X' || ch == 'x'):
			v = 10
		default:
			return false
		}
		sum += (10 - i) * v
	}
	return sum%11 == 0
}

func isValidISBN13(digits []rune) bool {
	sum := 0
	for i, ch := range digits {
		if !unicode.IsDigit(ch) {
			return false
		}
		v := int(ch - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}
