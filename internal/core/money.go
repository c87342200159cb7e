// Package core classifies host notifications as incoming payments.
//
// This file contains the conversion of an extracted amount to fen (1/100 yuan)
// for diagnostics. The spoken amount always stays the verbatim text.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAmountToFen converts a decimal string to fen with half-up rounding on
// the third decimal place.
//
// Examples:
//
//	ParseAmountToFen("88")     -> 8800, nil
//	ParseAmountToFen("12.34")  -> 1234, nil
//	ParseAmountToFen("12.345") -> 1235, nil (rounds up)
//	ParseAmountToFen("0")      -> 0, nil
func ParseAmountToFen(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv >= maxSafeInt64 {
		return 0, ErrInvalidAmount
	}
	var frac int64
	if len(fracPart) > 0 {
		frac = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			frac += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				frac++
			}
		}
	}
	return iv*100 + frac, nil
}
