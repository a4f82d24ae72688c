// Package victron reads Victron Energy solar charge controllers over
// Bluetooth Low Energy.
//
// Victron devices broadcast "Instant Readout" advertisements: manufacturer
// specific data under company id 0x02E1 carrying an AES-128-CTR encrypted
// record. Each device has its own key, shown in the VictronConnect app
// under Product info.
//
// # Advertisement Layout
//
//	offset  size  field
//	0       2     prefix (0x10 ...)
//	2       2     model id, little-endian
//	4       1     record type (0x01 = solar charger)
//	5       2     nonce / counter start, little-endian
//	7       1     key check, equals key[0]
//	8       n     encrypted record
//
// The counter block is the nonce as a 128-bit little-endian integer,
// incremented per 16-byte block.
//
// # Usage
//
//	key, err := victron.ParseKey(dev.EncryptionKey)
//	raw, err := victron.AwaitDevice(ctx, victron.NewBLEScanner(), dev.MAC, 60*time.Second)
//	fields, err := victron.Decode(raw, key)
package victron
