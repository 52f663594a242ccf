package protocol

import "context"

// Sink receives encoded response bytes. [queue.Queue] satisfies it.
//
// [queue.Queue]: github.com/ardnew/partner64/queue.Queue
type Sink interface {
	PushAll(ctx context.Context, p []byte) error
}

// Encoder turns sampled bits into response bytes: one byte per bit, the bit
// value in bit 0 and every other bit zero. Samples are emitted in the order
// they were taken and are never coalesced.
type Encoder struct {
	sink Sink
	buf  []byte
}

// NewEncoder returns an encoder that writes to sink.
func NewEncoder(sink Sink) *Encoder {
	return &Encoder{sink: sink, buf: make([]byte, 0, MaxShiftBits)}
}

// Encode pushes the low n bits of samples, least significant first. It
// blocks while the sink is full and returns early only if ctx is done or the
// sink reports [pkg.ErrReset], in which case the remaining bytes are dropped.
//
// [pkg.ErrReset]: github.com/ardnew/partner64/pkg.ErrReset
func (e *Encoder) Encode(ctx context.Context, n int, samples uint64) error {
	if n <= 0 {
		return nil
	}
	e.buf = AppendSamples(e.buf[:0], n, samples)
	return e.sink.PushAll(ctx, e.buf)
}

// AppendSamples appends the response bytes for the low n bits of samples to
// dst.
func AppendSamples(dst []byte, n int, samples uint64) []byte {
	for i := 0; i < n && i < 64; i++ {
		dst = append(dst, byte(samples>>i)&1)
	}
	return dst
}

// DecodeSamples folds response bytes back into a bit field, least
// significant bit first. Only bit 0 of each byte is used.
func DecodeSamples(resp []byte) uint64 {
	var v uint64
	for i, b := range resp {
		if i >= 64 {
			break
		}
		v |= uint64(b&1) << i
	}
	return v
}
