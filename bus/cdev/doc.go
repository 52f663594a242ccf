// Package cdev drives the bus from Linux user space through the GPIO
// character device.
//
// Each bus pin is requested as its own line so that the data lines can
// change direction without disturbing the outputs around them. Bus pin p
// maps to chip offset Base+p.
package cdev
