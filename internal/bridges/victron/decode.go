package victron

import (
	"crypto/aes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nerrad567/victron-ble2mqtt/internal/telemetry"
)

// Advertisement layout constants.
const (
	// CompanyID is Victron Energy's Bluetooth SIG company identifier.
	CompanyID = 0x02E1

	// instantReadoutPrefix is the first byte of an Instant Readout payload.
	instantReadoutPrefix = 0x10

	headerLen     = 7
	keyCheckIndex = headerLen
	cipherStart   = headerLen + 1

	// recordSolarCharger is the record type of MPPT / BlueSolar chargers.
	recordSolarCharger = 0x01

	solarRecordLen = 12

	keyLen = 16

	// loadNotAvailable is the 9-bit marker for "no load output".
	loadNotAvailable = 0x1FF
)

// chargeStates names the charger operation modes.
var chargeStates = map[uint8]string{
	0:   "OFF",
	1:   "LOW_POWER",
	2:   "FAULT",
	3:   "BULK",
	4:   "ABSORPTION",
	5:   "FLOAT",
	6:   "STORAGE",
	7:   "EQUALIZE_MANUAL",
	9:   "INVERTING",
	11:  "POWER_SUPPLY",
	245: "STARTING_UP",
	246: "REPEATED_ABSORPTION",
	247: "RECONDITION",
	248: "BATTERY_SAFE",
	252: "EXTERNAL_CONTROL",
}

// ChargeStateName returns the operation mode name for a raw state byte.
func ChargeStateName(state uint8) string {
	if name, ok := chargeStates[state]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", state)
}

// ParseKey decodes a 32 hex digit encryption key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), keyLen)
	}
	return key, nil
}

// Decode decrypts a solar charger advertisement and returns its fields in
// publish order: charge_state, battery_voltage (V),
// battery_charging_current (A), yield_today (Wh), solar_power (W),
// external_device_load (A).
//
// raw is the manufacturer data without the company id. Every error wraps
// ErrDecodeFault.
func Decode(raw, key []byte) (telemetry.Fields, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFault, ErrInvalidKey)
	}
	if len(raw) < cipherStart {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrDecodeFault, ErrShortPayload, len(raw))
	}
	if raw[0] != instantReadoutPrefix {
		return nil, fmt.Errorf("%w: %w: prefix 0x%02x", ErrDecodeFault, ErrUnsupportedRecord, raw[0])
	}
	if raw[4] != recordSolarCharger {
		return nil, fmt.Errorf("%w: %w: 0x%02x", ErrDecodeFault, ErrUnsupportedRecord, raw[4])
	}
	if raw[keyCheckIndex] != key[0] {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFault, ErrKeyMismatch)
	}

	nonce := binary.LittleEndian.Uint16(raw[5:7])
	plain, err := decrypt(key, nonce, raw[cipherStart:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFault, err)
	}
	if len(plain) < solarRecordLen {
		return nil, fmt.Errorf("%w: %w: record has %d bytes, want %d", ErrDecodeFault, ErrShortPayload, len(plain), solarRecordLen)
	}

	return decodeSolarCharger(plain), nil
}

// decodeSolarCharger parses a decrypted solar charger record.
// Byte 1 holds the charger error code, which is not published.
func decodeSolarCharger(b []byte) telemetry.Fields {
	state := b[0]
	voltage := int16(binary.LittleEndian.Uint16(b[2:4]))
	current := int16(binary.LittleEndian.Uint16(b[4:6]))
	yield := binary.LittleEndian.Uint16(b[6:8])
	power := binary.LittleEndian.Uint16(b[8:10])
	load := binary.LittleEndian.Uint16(b[10:12]) & loadNotAvailable

	loadAmps := 0.0
	if load != loadNotAvailable {
		loadAmps = float64(load) / 10
	}

	return telemetry.Fields{
		{Name: "charge_state", Value: ChargeStateName(state)},
		{Name: "battery_voltage", Value: float64(voltage) / 100},
		{Name: "battery_charging_current", Value: float64(current) / 10},
		{Name: "yield_today", Value: int(yield) * 10},
		{Name: "solar_power", Value: int(power)},
		{Name: "external_device_load", Value: loadAmps},
	}
}

// decrypt applies AES-128 in counter mode with a little-endian counter.
// crypto/cipher's CTR increments big-endian, so the keystream is built here.
func decrypt(key []byte, nonce uint16, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	var counter, stream [aes.BlockSize]byte
	binary.LittleEndian.PutUint16(counter[:], nonce)

	out := make([]byte, len(data))
	for off := 0; off < len(data); off += aes.BlockSize {
		block.Encrypt(stream[:], counter[:])
		end := min(off+aes.BlockSize, len(data))
		for i := off; i < end; i++ {
			out[i] = data[i] ^ stream[i-off]
		}
		incrementLE(counter[:])
	}
	return out, nil
}

func incrementLE(b []byte) {
	for i := range b {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}
