package fibaro

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/moroshma/hc2stream/pkg/logger"
)

const (
	// DiscoveryPort is the UDP port hubs listen on for the beacon
	DiscoveryPort = 44444
	// DefaultDiscoveryTimeout is how long Discover listens for replies
	DefaultDiscoveryTimeout = 5 * time.Second

	discoveryProbe = "FIBARO"
	maxDatagram    = 1500
)

var announcementPattern = regexp.MustCompile(`^ACK (HC2-[0-9]+) ([0-9a-f:]+)$`)

type discoverConfig struct {
	listenAddr    string
	broadcastAddr string
	timeout       time.Duration
	logger        *logger.Logger
}

// DiscoverOption configures Discover
type DiscoverOption func(*discoverConfig)

// WithTimeout sets the listening window
func WithTimeout(d time.Duration) DiscoverOption {
	return func(c *discoverConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithListenAddr sets the local address the beacon socket binds to
func WithListenAddr(addr string) DiscoverOption {
	return func(c *discoverConfig) {
		c.listenAddr = addr
	}
}

// WithBroadcastAddr sets where the probe is sent
func WithBroadcastAddr(addr string) DiscoverOption {
	return func(c *discoverConfig) {
		c.broadcastAddr = addr
	}
}

// WithDiscoveryLogger sets the logger used while discovering
func WithDiscoveryLogger(l *logger.Logger) DiscoverOption {
	return func(c *discoverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Discover broadcasts the discovery probe and calls onFound once per
// matching reply until the timeout elapses. Replies are not deduplicated and
// datagrams that do not look like an announcement are ignored. It returns
// nil when the window closes, ctx.Err() when ctx ends first, and an error
// when the socket cannot be opened, written or read.
func Discover(ctx context.Context, onFound func(DiscoveredHub), opts ...DiscoverOption) error {
	cfg := &discoverConfig{
		listenAddr:    net.JoinHostPort("", strconv.Itoa(DiscoveryPort)),
		broadcastAddr: net.JoinHostPort(net.IPv4bcast.String(), strconv.Itoa(DiscoveryPort)),
		timeout:       DefaultDiscoveryTimeout,
		logger:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	laddr, err := net.ResolveUDPAddr("udp4", cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.listenAddr, err)
	}
	baddr, err := net.ResolveUDPAddr("udp4", cfg.broadcastAddr)
	if err != nil {
		return fmt.Errorf("invalid broadcast address %q: %w", cfg.broadcastAddr, err)
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("failed to bind discovery port %s: %w", cfg.listenAddr, err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(discoveryProbe), baddr); err != nil {
		return fmt.Errorf("failed to send discovery probe: %w", err)
	}

	cfg.logger.Debug("Discovery probe sent",
		logger.String("broadcast", baddr.String()),
		logger.Duration("timeout", cfg.timeout),
	)

	if err := conn.SetReadDeadline(time.Now().Add(cfg.timeout)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	// Unblock the read as soon as ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return fmt.Errorf("failed to read discovery reply: %w", err)
		}

		hub, ok := parseAnnouncement(buf[:n], addr.IP.String())
		if !ok {
			cfg.logger.Debug("Ignoring datagram",
				logger.String("from", addr.String()),
				logger.Int("size", n),
			)
			continue
		}

		cfg.logger.Info("Hub discovered",
			logger.String("ip", hub.IP),
			logger.String("serial", hub.Serial),
			logger.String("mac", hub.MAC),
		)
		onFound(hub)
	}
}

func parseAnnouncement(payload []byte, ip string) (DiscoveredHub, bool) {
	m := announcementPattern.FindSubmatch(payload)
	if m == nil {
		return DiscoveredHub{}, false
	}
	return DiscoveredHub{IP: ip, Serial: string(m[1]), MAC: string(m[2])}, true
}
