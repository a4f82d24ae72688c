// Package delivery moves telemetry records to the MQTT broker with
// at-least-once semantics.
//
// Components, leaf first:
//
//   - Engine publishes one record with a bounded number of attempts and
//     removes its outbox entry once delivered.
//   - Forwarder replays every outbox entry through the Engine.
//   - Pipeline timestamps a freshly decoded sample, attempts it live and
//     stores it in the outbox when delivery fails.
//   - Controller owns the broker connection lifecycle: every (re)connect
//     triggers one Forwarder pass, and Shutdown waits for in-flight work
//     before closing the connection.
//
// # Data Flow
//
//	decoder ─► Pipeline.Submit ─► Engine.Attempt ─► broker
//	                 │ failed            ▲
//	                 ▼                   │
//	              outbox ─► Forwarder ───┘   (on every connect)
//
// A record is removed from the outbox only after the broker accepted it,
// so a crash at any point can cause a duplicate publish but never a loss.
// Consumers de-duplicate on captured_at.
package delivery
