// Package telemetry defines the decoded sample that flows from the BLE
// decoder through the delivery pipeline, and its two encodings: the wire
// payload published to MQTT and the persisted form kept in the outbox.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedRecord is returned by Unmarshal for bytes that are not a
// persisted record.
var ErrMalformedRecord = errors.New("telemetry: malformed record")

// Record is one decoded sample from one device.
type Record struct {
	DeviceType string
	DeviceName string
	Fields     Fields
	// CapturedAt is milliseconds since the Unix epoch. It also makes the
	// record key unique per device.
	CapturedAt int64
}

// Key returns "{device_type}_{device_name}_{captured_at}", the
// de-duplication key and outbox file name.
func (r Record) Key() string {
	return r.DeviceType + "_" + r.DeviceName + "_" + strconv.FormatInt(r.CapturedAt, 10)
}

// persisted is the on-disk layout of a record.
type persisted struct {
	DeviceType string `json:"device_type"`
	DeviceName string `json:"device_name"`
	CapturedAt int64  `json:"captured_at"`
	Fields     Fields `json:"fields"`
}

// Marshal returns the persisted form of the record.
func (r Record) Marshal() ([]byte, error) {
	b, err := json.Marshal(persisted{
		DeviceType: r.DeviceType,
		DeviceName: r.DeviceName,
		CapturedAt: r.CapturedAt,
		Fields:     r.Fields,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling record %s: %w", r.Key(), err)
	}
	return b, nil
}

// Unmarshal reconstructs a record from its persisted form.
func Unmarshal(data []byte) (Record, error) {
	var p persisted
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if p.DeviceType == "" || p.DeviceName == "" || p.CapturedAt <= 0 {
		return Record{}, fmt.Errorf("%w: missing device_type, device_name or captured_at", ErrMalformedRecord)
	}
	return Record{
		DeviceType: p.DeviceType,
		DeviceName: p.DeviceName,
		Fields:     p.Fields,
		CapturedAt: p.CapturedAt,
	}, nil
}

// Payload returns the wire payload: the fields object with a trailing
// captured_at member.
func (r Record) Payload() ([]byte, error) {
	fields := make(Fields, 0, len(r.Fields)+1)
	for _, f := range r.Fields {
		if f.Name != "captured_at" {
			fields = append(fields, f)
		}
	}
	fields = append(fields, Field{Name: "captured_at", Value: r.CapturedAt})

	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshalling payload %s: %w", r.Key(), err)
	}
	return b, nil
}
