package mqtt

import "fmt"

// Topics provides builders for the bridge's MQTT topics.
//
//	topic := mqtt.Topics{}.Device("victron", "solar", "roof1")
//	// Returns: "victron/solar/roof1"
type Topics struct{}

// Device returns the telemetry topic for one device.
//
// Example: victron/solar/roof1
func (Topics) Device(base, deviceType, deviceName string) string {
	return fmt.Sprintf("%s/%s/%s", base, deviceType, deviceName)
}

// Status returns the retained availability topic.
//
// Example: victron/status
func (Topics) Status(base string) string {
	return fmt.Sprintf("%s/status", base)
}
