// Package hal defines the USB device controller boundary used by the
// bridge transport.
//
// A [DeviceHAL] gives access to the control endpoint, where vendor requests
// arrive, and to the bulk endpoints listed in [BridgeEndpoints]. Everything
// below it (enumeration, descriptors, standard requests) belongs to the
// controller or its firmware and is not modelled here.
//
// The [github.com/ardnew/partner64/hal/fifo] package implements DeviceHAL
// over named pipes so the complete bridge can run as an ordinary process.
package hal
