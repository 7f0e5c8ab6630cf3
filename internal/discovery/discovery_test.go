package discovery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	seen  []string
	known map[string]bool
	ch    chan string
}

func newRecorder() *recorder {
	return &recorder{known: map[string]bool{}, ch: make(chan string, 16)}
}

func (r *recorder) RecordDiscoveryHeartbeat(address string) (bool, error) {
	r.mu.Lock()
	created := !r.known[address]
	r.known[address] = true
	r.seen = append(r.seen, address)
	r.mu.Unlock()
	r.ch <- address
	return created, nil
}

func (r *recorder) addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestHandleAcceptsAnnouncement(t *testing.T) {
	rec := newRecorder()
	var hooked []bool
	svc := NewService(Config{OnHeartbeat: func(_ string, created bool) {
		hooked = append(hooked, created)
	}}, rec, zerolog.Nop())

	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 4210}
	svc.handle([]byte("epd-online\n"), from)
	svc.handle([]byte("epd-online"), from)

	assert.Equal(t, []string{"192.168.1.50", "192.168.1.50"}, rec.addresses())
	assert.Equal(t, []bool{true, false}, hooked)
}

func TestHandleIgnoresOtherPayloads(t *testing.T) {
	rec := newRecorder()
	svc := NewService(Config{}, rec, zerolog.Nop())

	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 4210}
	svc.handle([]byte(Probe), from)
	svc.handle([]byte("hello"), from)
	svc.handle([]byte(""), from)
	svc.handle([]byte(Announce), &net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 4210})
	svc.handle([]byte(Announce), nil)

	assert.Empty(t, rec.addresses())
}

func TestServeOverLoopback(t *testing.T) {
	display, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer display.Close()

	relayConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	rec := newRecorder()
	svc := NewService(Config{
		BroadcastAddr:     display.LocalAddr().String(),
		BroadcastInterval: 50 * time.Millisecond,
	}, rec, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, relayConn) }()

	require.NoError(t, display.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 64)
	n, from, err := display.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, Probe, string(buf[:n]))

	_, err = display.WriteToUDP([]byte(Announce), from)
	require.NoError(t, err)

	select {
	case addr := <-rec.ch:
		assert.Equal(t, "127.0.0.1", addr)
	case <-time.After(5 * time.Second):
		t.Fatal("announcement was not recorded")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("discovery did not stop")
	}
}
