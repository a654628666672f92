// Package mqtt mirrors agent events to an MQTT broker so dashboards and
// other tools can follow turns as they happen.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained birth message ("online") to the
// availability topic; a will message flips it to "offline" on
// unexpected disconnects. Events are published with QoS 0 to
// <prefix>/<session_id>/events. Publishing never blocks a turn: events
// are queued and dropped when the queue is full.
package mqtt
