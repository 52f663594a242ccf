// Package capture records bridge transfers to pcap files in the Linux
// usbmon format, so a session can be opened in Wireshark or replayed with
// any gopacket reader.
//
// Every transfer becomes a submit/complete pair sharing one URB id. OUT
// data travels with the submit event and IN data with the completion, as
// usbmon reports them. Control requests carry their setup packet; a
// stalled request completes with status -EPIPE.
package capture
