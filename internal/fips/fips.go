// Package fips normalizes Federal Information Processing Standard county codes.
//
// A county FIPS code is the 2-digit state code followed by the 3-digit county
// code. It is the only join key between the boundary, count and population
// tables, so every producer must build it through this package.
package fips

import (
	"strconv"
	"strings"
)

const (
	// StateWidth is the zero-padded width of a state code.
	StateWidth = 2
	// CountyWidth is the zero-padded width of a county code.
	CountyWidth = 3
	// Width is the width of a combined county FIPS code.
	Width = StateWidth + CountyWidth
)

// NormalizeState normalizes a state FIPS code to 2 digits with zero-padding.
func NormalizeState(code string) string {
	return pad(code, StateWidth)
}

// NormalizeCounty normalizes a county FIPS code to 3 digits with zero-padding.
func NormalizeCounty(code string) string {
	return pad(code, CountyWidth)
}

// Combine combines state and county FIPS codes into a 5-digit code.
// Returns "" if either part is empty.
func Combine(state, county string) string {
	s := NormalizeState(state)
	c := NormalizeCounty(county)
	if s == "" || c == "" {
		return ""
	}
	return s + c
}

// IsStateTotal reports whether a raw county code denotes a whole-state row.
// Census estimates use county code 0 for state totals.
func IsStateTotal(county string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(county))
	return err == nil && n == 0
}

// Valid reports whether code is a 5 character string of ASCII digits.
func Valid(code string) bool {
	if len(code) != Width {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// pad trims code and left-pads it with zeros to width. Codes arriving as
// floats from spreadsheets ("6.0") are truncated at the decimal point.
func pad(code string, width int) string {
	code = strings.TrimSpace(code)
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[:i]
	}
	if code == "" {
		return ""
	}
	for len(code) < width {
		code = "0" + code
	}
	return code
}
