// Package config loads bridge settings from an optional JSON file.
//
// Every field is optional. Omitted fields fall back to the defaults
// compiled into the bus, queue and serialport packages, so a partial file
// only states what differs from the board wiring. Durations are written as
// strings such as "2us" or "100ms".
package config
