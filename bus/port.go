package bus

// Port is the GPIO access layer beneath the driver.
//
// Pins are numbered 0-31 and addressed by bit masks, so a single call can
// change every line of a bus group at once. Implementations need not be safe
// for concurrent use; the driver is the only caller.
type Port interface {
	// SetDirection configures the pins in mask as outputs when output is
	// true, or as inputs otherwise.
	SetDirection(mask uint32, output bool)

	// Write drives the output pins in mask to the corresponding bits of
	// levels. Pins outside mask are unaffected.
	Write(mask, levels uint32)

	// Read samples the current level of every pin.
	Read() uint32
}
