package gobalance

import (
	"errors"
	"fmt"

	"tinygo.org/x/bluetooth"
)

// ErrInvalidAddress is returned for strings not in XX:XX:XX:XX:XX:XX form.
var ErrInvalidAddress = errors.New("invalid peripheral address")

const addressLen = 17

// ValidAddress reports whether s is six colon-separated pairs of hex digits.
func ValidAddress(s string) bool {
	if len(s) != addressLen {
		return false
	}
	for i := 0; i < addressLen; i++ {
		c := s[i]
		if i%3 == 2 {
			if c != ':' {
				return false
			}
			continue
		}
		if !isHex(c) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// ParseAddress validates s and returns it as a bluetooth.MAC. The MAC is
// stored least significant byte first, the byte order BlueZ socket
// addresses use.
func ParseAddress(s string) (bluetooth.MAC, error) {
	if !ValidAddress(s) {
		return bluetooth.MAC{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	mac, err := bluetooth.ParseMAC(s)
	if err != nil {
		return bluetooth.MAC{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return mac, nil
}
