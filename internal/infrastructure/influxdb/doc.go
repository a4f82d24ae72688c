// Package influxdb mirrors decoded Victron samples into InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each record becomes
// one point in the "victron" measurement:
//
//	victron,device_name=roof1,device_type=solar battery_voltage=12.5,solar_power=100i,charge_state="bulk" 1700000000000
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// The client satisfies delivery.Mirror and is handed to the pipeline
// alongside the MQTT publisher. The mirror is best-effort: it is not part
// of the store-and-forward guarantee.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
