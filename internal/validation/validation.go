package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrCityCodeEmpty is returned when a city code is empty after trim.
var ErrCityCodeEmpty = errors.New("city code is required")

// ErrCityCodeInvalid is returned when a city code contains non-digit characters.
var ErrCityCodeInvalid = errors.New("city code must be numeric")

// ErrCityNameEmpty is returned when a city name is empty after trim.
var ErrCityNameEmpty = errors.New("city name is required")

// ErrCityNameInvalid is returned when a city name contains disallowed characters.
var ErrCityNameInvalid = errors.New("city name contains invalid characters")

// ValidateCityCode trims the input and enforces the OpenWeatherMap city id
// shape (digits only). Returns the trimmed code or an error suitable for
// failing configuration load.
func ValidateCityCode(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrCityCodeEmpty
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", ErrCityCodeInvalid
		}
	}
	return s, nil
}

// ValidateCityName trims the input and restricts it to letters (Unicode),
// digits, space, comma, period, apostrophe and hyphen.
func ValidateCityName(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrCityNameEmpty
	}
	for _, r := range s {
		if !isAllowedNameRune(r) {
			return "", ErrCityNameInvalid
		}
	}
	return s, nil
}

// isAllowedNameRune returns true for letters, digits and common name punctuation.
func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '.', '\'', '-':
		return true
	}
	return false
}
