package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/partner64/pkg"
)

func TestNewCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		want     int
	}{
		{"zero", 0, MinCapacity},
		{"negative", -5, MinCapacity},
		{"below minimum", MinCapacity - 1, MinCapacity},
		{"minimum", MinCapacity, MinCapacity},
		{"default", DefaultCapacity, DefaultCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(tt.capacity)
			assert.Equal(t, tt.want, q.Cap())
			assert.Equal(t, 0, q.Len())
			assert.Equal(t, tt.want, q.Free())
		})
	}
}

func TestFIFOOrderAcrossWrap(t *testing.T) {
	q := New(MinCapacity)

	// Advance head so the ring wraps.
	require.Equal(t, 40, q.Write(make([]byte, 40)))
	require.Equal(t, 40, q.Read(make([]byte, 40)))

	in := make([]byte, MinCapacity)
	for i := range in {
		in[i] = byte(i + 1)
	}
	require.Equal(t, MinCapacity, q.Write(in))
	assert.Equal(t, 0, q.Free())
	assert.False(t, q.TryPush(0xFF), "push into full queue must fail")

	out := make([]byte, MinCapacity)
	require.Equal(t, MinCapacity, q.Read(out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("FIFO order mismatch (-want +got):\n%s", diff)
	}
}

func TestTryPushPop(t *testing.T) {
	q := New(MinCapacity)

	_, ok := q.TryPop()
	assert.False(t, ok)

	require.True(t, q.TryPush(0xC1))
	require.True(t, q.TryPush(0x80))
	assert.Equal(t, 2, q.Len())

	b, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, byte(0xC1), b)
	b, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, byte(0x80), b)
	assert.Equal(t, 2, q.HighWater())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(MinCapacity)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan byte, 1)
	go func() {
		b, err := q.Pop(ctx)
		if err == nil {
			got <- b
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push(ctx, 0x41))
	select {
	case b := <-got:
		assert.Equal(t, byte(0x41), b)
	case <-ctx.Done():
		t.Fatal("Pop did not wake after push")
	}
}

func TestPushBlocksWhenFull(t *testing.T) {
	q := New(MinCapacity)
	require.Equal(t, MinCapacity, q.Write(make([]byte, MinCapacity)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- q.Push(ctx, 0x99) }()

	select {
	case <-done:
		t.Fatal("Push returned while queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := q.TryPop()
	require.True(t, ok)
	require.NoError(t, <-done)
	assert.Equal(t, MinCapacity, q.Len())
}

func TestPushCancelled(t *testing.T) {
	q := New(MinCapacity)
	q.Write(make([]byte, MinCapacity))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Push(ctx, 1)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Equal(t, MinCapacity, q.Len(), "cancelled push must not drop or add bytes")
}

func TestNoLossUnderBackpressure(t *testing.T) {
	const total = 20000
	q := New(MinCapacity)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]byte, 37)
		sent := 0
		for sent < total {
			n := len(chunk)
			if total-sent < n {
				n = total - sent
			}
			for i := 0; i < n; i++ {
				chunk[i] = byte(sent + i)
			}
			if err := q.PushAll(ctx, chunk[:n]); err != nil {
				t.Errorf("PushAll: %v", err)
				return
			}
			sent += n
		}
	}()

	buf := make([]byte, 23)
	received := 0
	for received < total {
		n, err := q.ReadAvailable(ctx, buf)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			require.Equal(t, byte(received+i), buf[i], "byte %d out of order", received+i)
		}
		received += n
	}
	wg.Wait()
	assert.LessOrEqual(t, q.HighWater(), MinCapacity)
}

func TestReset(t *testing.T) {
	q := New(MinCapacity)
	q.Write([]byte{1, 2, 3})

	assert.Equal(t, 3, q.Reset())
	assert.Equal(t, 0, q.Len())
	_, ok := q.TryPop()
	assert.False(t, ok)

	// Queue remains usable after reset.
	require.True(t, q.TryPush(7))
	b, _ := q.TryPop()
	assert.Equal(t, byte(7), b)
}

func TestResetAbandonsBlockedPush(t *testing.T) {
	q := New(MinCapacity)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stale := make([]byte, 2*MinCapacity)
	for i := range stale {
		stale[i] = 0xC1
	}
	done := make(chan error, 1)
	go func() { done <- q.PushAll(ctx, stale) }()

	// The first half fits; the producer then blocks on the rest.
	require.Eventually(t, func() bool { return q.Len() == MinCapacity }, time.Second, time.Millisecond)

	assert.Equal(t, MinCapacity, q.Reset())
	assert.ErrorIs(t, <-done, pkg.ErrReset)
	assert.Zero(t, q.Len(), "bytes pushed across a reset must be discarded")

	// Pushes started after the reset proceed normally.
	require.NoError(t, q.PushAll(ctx, []byte{1, 2}))
	assert.Equal(t, 2, q.Len())
}

func TestClose(t *testing.T) {
	q := New(MinCapacity)
	q.Write([]byte{0xAA})
	q.Close()
	q.Close() // idempotent

	ctx := context.Background()
	assert.ErrorIs(t, q.Push(ctx, 1), pkg.ErrClosed)

	b, err := q.Pop(ctx)
	require.NoError(t, err, "closed queue must drain")
	assert.Equal(t, byte(0xAA), b)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, pkg.ErrClosed)
}

func TestCloseWakesConsumer(t *testing.T) {
	q := New(MinCapacity)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	assert.ErrorIs(t, <-done, pkg.ErrClosed)
}

func TestReadableSignal(t *testing.T) {
	q := New(MinCapacity)
	q.TryPush(1)
	select {
	case <-q.Readable():
	default:
		t.Fatal("Readable not signalled after push")
	}
}
