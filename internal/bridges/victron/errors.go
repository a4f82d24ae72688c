package victron

import "errors"

// Domain errors for the Victron bridge package.
var (
	// ErrDecodeFault is wrapped by every Decode failure. A sample that
	// fails to decode is dropped: retrying the same bytes cannot succeed.
	ErrDecodeFault = errors.New("victron: decode failed")

	// ErrShortPayload is returned when an advertisement is too short to
	// hold its header or record.
	ErrShortPayload = errors.New("victron: payload too short")

	// ErrKeyMismatch is returned when the key check byte does not match
	// the configured encryption key.
	ErrKeyMismatch = errors.New("victron: advertisement key mismatch")

	// ErrUnsupportedRecord is returned for advertisements that are not a
	// solar charger Instant Readout record.
	ErrUnsupportedRecord = errors.New("victron: unsupported record type")

	// ErrInvalidKey is returned when an encryption key is not 32 hex digits.
	ErrInvalidKey = errors.New("victron: invalid encryption key")

	// ErrScanTimeout is returned when no advertisement from the wanted
	// device arrives before the scan timeout.
	ErrScanTimeout = errors.New("victron: no advertisement received")

	// ErrScanFailed is returned when the BLE adapter cannot scan.
	ErrScanFailed = errors.New("victron: scan failed")
)
