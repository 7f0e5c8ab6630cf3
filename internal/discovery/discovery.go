// Package discovery finds displays on the local network. It broadcasts a
// probe datagram on a fixed interval and treats every matching reply as a
// heartbeat from the sender's address.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPort              = 4210
	DefaultBroadcastInterval = 10 * time.Second

	// Probe is broadcast to ask displays to announce themselves.
	Probe = "who-is-epd"
	// Announce is the reply a display sends back.
	Announce = "epd-online"
)

const readPoll = time.Second

// Recorder receives discovery heartbeats.
type Recorder interface {
	RecordDiscoveryHeartbeat(address string) (bool, error)
}

type Config struct {
	// ListenAddr is the local UDP address; ":4210" when empty.
	ListenAddr string
	// BroadcastAddr is where probes go; "255.255.255.255:4210" when empty.
	BroadcastAddr     string
	BroadcastInterval time.Duration
	// OnHeartbeat, when set, is called after every accepted announcement.
	OnHeartbeat func(address string, created bool)
}

type Service struct {
	cfg      Config
	recorder Recorder
	logger   zerolog.Logger
}

func NewService(cfg Config, recorder Recorder, logger zerolog.Logger) *Service {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.BroadcastAddr == "" {
		cfg.BroadcastAddr = fmt.Sprintf("%s:%d", net.IPv4bcast, DefaultPort)
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = DefaultBroadcastInterval
	}
	return &Service{
		cfg:      cfg,
		recorder: recorder,
		logger:   logger.With().Str("component", "discovery").Logger(),
	}
}

// Run binds the discovery socket and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp4", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen addr %q: %w", s.cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, conn)
}

// Serve broadcasts probes and reads announcements on conn until ctx is done.
// conn is closed on return.
func (s *Service) Serve(ctx context.Context, conn *net.UDPConn) error {
	defer conn.Close()

	target, err := net.ResolveUDPAddr("udp4", s.cfg.BroadcastAddr)
	if err != nil {
		return fmt.Errorf("resolve broadcast addr %q: %w", s.cfg.BroadcastAddr, err)
	}

	s.logger.Info().
		Str("listen", conn.LocalAddr().String()).
		Str("broadcast", target.String()).
		Dur("interval", s.cfg.BroadcastInterval).
		Msg("discovery started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.broadcastLoop(gctx, conn, target)
		return nil
	})
	g.Go(func() error {
		return s.readLoop(gctx, conn)
	})
	err = g.Wait()
	s.logger.Info().Msg("discovery stopped")
	return err
}

func (s *Service) broadcastLoop(ctx context.Context, conn *net.UDPConn, target *net.UDPAddr) {
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	s.broadcast(conn, target)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(conn, target)
		}
	}
}

func (s *Service) broadcast(conn *net.UDPConn, target *net.UDPAddr) {
	if _, err := conn.WriteToUDP([]byte(Probe), target); err != nil {
		broadcastErrors.Inc()
		s.logger.Warn().Err(err).Str("target", target.String()).Msg("discovery broadcast failed")
		return
	}
	broadcastsSent.Inc()
	s.logger.Debug().Str("target", target.String()).Msg("discovery probe sent")
}

func (s *Service) readLoop(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, 512)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(readPoll))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("discovery read failed")
			continue
		}
		s.handle(buf[:n], from)
	}
}

// handle processes one datagram. The sender address comes from the packet,
// never from its payload.
func (s *Service) handle(payload []byte, from *net.UDPAddr) {
	msg := string(bytes.TrimSpace(payload))
	if msg != Announce || from == nil {
		responsesIgnored.Inc()
		s.logger.Debug().Str("payload", msg).Stringer("from", from).Msg("ignoring datagram")
		return
	}
	ip4 := from.IP.To4()
	if ip4 == nil {
		responsesIgnored.Inc()
		s.logger.Debug().Stringer("from", from).Msg("ignoring non-IPv4 announcement")
		return
	}
	address := ip4.String()
	created, err := s.recorder.RecordDiscoveryHeartbeat(address)
	if err != nil {
		responsesIgnored.Inc()
		s.logger.Warn().Err(err).Str("ip", address).Msg("discovery heartbeat rejected")
		return
	}
	responsesAccepted.Inc()
	if s.cfg.OnHeartbeat != nil {
		s.cfg.OnHeartbeat(address, created)
	}
}
