package fibaro

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnnouncement(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    DiscoveredHub
		ok      bool
	}{
		{
			name:    "announcement",
			payload: "ACK HC2-012345 aa:bb:cc:dd:ee:ff",
			want:    DiscoveredHub{IP: "10.0.0.5", Serial: "HC2-012345", MAC: "aa:bb:cc:dd:ee:ff"},
			ok:      true,
		},
		{name: "wrong serial prefix", payload: "ACK FOO 123"},
		{name: "upper case mac", payload: "ACK HC2-1 AA:BB"},
		{name: "probe echo", payload: "FIBARO"},
		{name: "trailing data", payload: "ACK HC2-1 aa:bb extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseAnnouncement([]byte(tt.payload), "10.0.0.5")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// startFakeHub answers every datagram it receives with the given replies
func startFakeHub(t *testing.T, replies ...string) (addr string, probes <-chan string) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ch := make(chan string, 4)
	go func() {
		buf := make([]byte, maxDatagram)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			ch <- string(buf[:n])
			for _, r := range replies {
				_, _ = conn.WriteToUDP([]byte(r), from)
			}
		}
	}()

	return conn.LocalAddr().String(), ch
}

func TestDiscover(t *testing.T) {
	hubAddr, probes := startFakeHub(t,
		"ACK HC2-000042 00:11:22:33:44:55",
		"ACK FOO 123",
		"ACK HC2-000042 00:11:22:33:44:55",
	)

	var mu sync.Mutex
	var found []DiscoveredHub
	err := Discover(context.Background(), func(h DiscoveredHub) {
		mu.Lock()
		found = append(found, h)
		mu.Unlock()
	},
		WithListenAddr("127.0.0.1:0"),
		WithBroadcastAddr(hubAddr),
		WithTimeout(300*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, discoveryProbe, <-probes)

	want := DiscoveredHub{IP: "127.0.0.1", Serial: "HC2-000042", MAC: "00:11:22:33:44:55"}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []DiscoveredHub{want, want}, found)
}

func TestDiscover_NoReplies(t *testing.T) {
	hubAddr, _ := startFakeHub(t)

	calls := 0
	start := time.Now()
	err := Discover(context.Background(), func(DiscoveredHub) { calls++ },
		WithListenAddr("127.0.0.1:0"),
		WithBroadcastAddr(hubAddr),
		WithTimeout(100*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestDiscover_ContextCancel(t *testing.T) {
	hubAddr, _ := startFakeHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Discover(ctx, func(DiscoveredHub) {},
		WithListenAddr("127.0.0.1:0"),
		WithBroadcastAddr(hubAddr),
		WithTimeout(5*time.Second),
	)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDiscover_BindError(t *testing.T) {
	err := Discover(context.Background(), func(DiscoveredHub) {},
		WithListenAddr("not-an-address"),
	)
	assert.Error(t, err)
}
