// Package relay implements the producer and device operations of the relay
// on top of the device registry, the queues and the render pipeline.
package relay

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joshp123/epdrelay/internal/archive"
	"github.com/joshp123/epdrelay/internal/content"
	"github.com/joshp123/epdrelay/internal/device"
	"github.com/joshp123/epdrelay/internal/events"
	"github.com/joshp123/epdrelay/internal/layout"
	"github.com/joshp123/epdrelay/internal/render"
)

const (
	DefaultMaxTextLength = 1000

	eventTimeout   = 2 * time.Second
	archiveTimeout = 30 * time.Second
)

// DefaultAllowedImageTypes are the MIME types accepted for image uploads.
var DefaultAllowedImageTypes = []string{render.MIMEJPEG, render.MIMEPNG}

type Config struct {
	MaxTextLength     int
	Budgets           layout.Budgets
	AllowedImageTypes []string
}

func (c *Config) applyDefaults() {
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = DefaultMaxTextLength
	}
	if c.Budgets == (layout.Budgets{}) {
		c.Budgets = layout.DefaultBudgets
	}
	if len(c.AllowedImageTypes) == 0 {
		c.AllowedImageTypes = DefaultAllowedImageTypes
	}
}

// Renderer turns an image file into a raw bitmap.
type Renderer interface {
	RenderFile(ctx context.Context, path string) ([]byte, error)
	Size() (int, int)
}

// Throttle limits how often one device may poll.
type Throttle interface {
	Check(key string, now time.Time) error
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Throttle Throttle
	Events   events.Publisher
	Archive  archive.Store
}

type Service struct {
	cfg      Config
	registry *device.Registry
	queues   *device.Queues
	renderer Renderer
	throttle Throttle
	events   events.Publisher
	archive  archive.Store
	logger   zerolog.Logger

	background sync.WaitGroup
}

func NewService(cfg Config, registry *device.Registry, renderer Renderer, opts Options, logger zerolog.Logger) *Service {
	cfg.applyDefaults()
	pub := opts.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		cfg:      cfg,
		registry: registry,
		queues:   registry.Queues(),
		renderer: renderer,
		throttle: opts.Throttle,
		events:   pub,
		archive:  opts.Archive,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// MaxTextLength is the longest accepted text, in characters.
func (s *Service) MaxTextLength() int {
	return s.cfg.MaxTextLength
}

// AllowedImageTypes lists the accepted upload MIME types.
func (s *Service) AllowedImageTypes() []string {
	return append([]string(nil), s.cfg.AllowedImageTypes...)
}

// AllowsImageType reports whether uploads of this MIME type are accepted.
func (s *Service) AllowsImageType(mime string) bool {
	return s.allowedType(mime)
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	Device      string
	QueueLength int
	Message     string
}

// RegisterDevice records an explicit registration, which also counts as a poll.
func (s *Service) RegisterDevice(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrAddressRequired
	}
	known := s.registry.Known(address)
	if err := s.registry.Register(address); err != nil {
		return err
	}
	if !known {
		s.publish(ctx, events.New(events.DeviceRegistered, address))
	}
	return nil
}

// SetDefaultDevice makes address the target of submissions that name none.
func (s *Service) SetDefaultDevice(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrAddressRequired
	}
	known := s.registry.Known(address)
	if err := s.registry.SetDefaultTarget(address); err != nil {
		return err
	}
	if !known {
		s.publish(ctx, events.New(events.DeviceRegistered, address))
	}
	s.publish(ctx, events.New(events.DefaultChanged, address))
	return nil
}

// Poll records the poll and hands out at most one queued item. An empty
// queue yields the none item, not an error.
func (s *Service) Poll(ctx context.Context, address string) (content.Item, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return content.Item{}, fmt.Errorf("poll: %w", device.ErrUnknownDevice)
	}
	if err := s.registry.RecordPoll(address); err != nil {
		return content.Item{}, err
	}
	if s.throttle != nil {
		if err := s.throttle.Check(address, s.registry.Now()); err != nil {
			return content.Item{}, err
		}
	}

	item, ok, err := s.queues.DequeueOne(address)
	if err != nil {
		return content.Item{}, err
	}
	if !ok {
		pollsTotal.WithLabelValues("empty").Inc()
		return content.None(), nil
	}
	pollsTotal.WithLabelValues("delivered").Inc()

	remaining, _ := s.queues.Len(address)
	s.logger.Info().
		Str("ip", address).
		Str("type", string(item.Kind())).
		Int("queue_len", remaining).
		Msg("content delivered")
	ev := events.New(events.ContentDelivered, address)
	ev.Content = string(item.Kind())
	ev.QueueLength = remaining
	s.publish(ctx, ev)
	return item, nil
}

// ListDevices returns registry snapshots.
func (s *Service) ListDevices() []device.Device {
	return s.registry.List()
}

// DefaultDevice returns the current default target.
func (s *Service) DefaultDevice() string {
	return s.registry.DefaultTarget()
}

// DeviceQueue returns the pending items of a device without consuming them.
func (s *Service) DeviceQueue(address string) ([]content.Item, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrAddressRequired
	}
	return s.queues.PeekAll(address)
}

type TextRequest struct {
	Text   string
	Device string
	Size   string
}

// SubmitText wraps text for its size class and queues it.
func (s *Service) SubmitText(ctx context.Context, req TextRequest) (Receipt, error) {
	if req.Text == "" {
		return Receipt{}, ErrTextRequired
	}
	if n := utf8.RuneCountInString(req.Text); n > s.cfg.MaxTextLength {
		return Receipt{}, fmt.Errorf("%w: %d characters, maximum is %d", ErrTextTooLong, n, s.cfg.MaxTextLength)
	}
	target, err := s.resolveTarget(req.Device)
	if err != nil {
		return Receipt{}, err
	}

	size := layout.ParseSizeClass(req.Size)
	wrapped := s.cfg.Budgets.WrapFor(req.Text, size)
	if err := s.queues.Enqueue(target, content.Text(wrapped, string(size))); err != nil {
		return Receipt{}, err
	}
	submissionsTotal.WithLabelValues(string(content.KindText)).Inc()
	s.logger.Info().
		Str("ip", target).
		Str("size", string(size)).
		Int("chars", utf8.RuneCountInString(req.Text)).
		Int("wrapped_chars", utf8.RuneCountInString(wrapped)).
		Msg("text queued")
	return s.queued(ctx, target, content.KindText, "Text sent to device"), nil
}

type ImageRequest struct {
	// Path is the spooled upload.
	Path     string
	MIMEType string
	Device   string
	// Release frees the upload; SubmitImage calls it exactly once on every
	// path, including validation failures.
	Release func()
}

// SubmitImage renders an uploaded photo and queues the bitmap. The MIME type
// is checked first, so a caller may skip spooling a rejected upload and pass
// only its declared type.
func (s *Service) SubmitImage(ctx context.Context, req ImageRequest) (Receipt, error) {
	if req.Release != nil {
		defer req.Release()
	}
	if req.Path == "" && req.MIMEType == "" {
		return Receipt{}, ErrImageRequired
	}
	if !s.allowedType(req.MIMEType) {
		return Receipt{}, fmt.Errorf("%w: %q, allowed types: %s",
			ErrUnsupportedImageType, req.MIMEType, strings.Join(s.cfg.AllowedImageTypes, ", "))
	}
	if req.Path == "" {
		return Receipt{}, ErrImageRequired
	}
	target, err := s.resolveTarget(req.Device)
	if err != nil {
		return Receipt{}, err
	}
	if !s.registry.Known(target) {
		return Receipt{}, fmt.Errorf("send image %q: %w", target, device.ErrUnknownDevice)
	}

	bitmap, err := s.renderer.RenderFile(ctx, req.Path)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	if err := s.queues.Enqueue(target, content.Image(bitmap)); err != nil {
		return Receipt{}, err
	}
	submissionsTotal.WithLabelValues(string(content.KindImage)).Inc()
	s.logger.Info().
		Str("ip", target).
		Int("bitmap_bytes", len(bitmap)).
		Int("base64_bytes", base64.StdEncoding.EncodedLen(len(bitmap))).
		Msg("image queued")
	s.archiveFrame(target, bitmap)
	return s.queued(ctx, target, content.KindImage, "Image processed and sent to device"), nil
}

// Clear queues a clear-screen command.
func (s *Service) Clear(ctx context.Context, address string) (Receipt, error) {
	target, err := s.resolveTarget(address)
	if err != nil {
		return Receipt{}, err
	}
	if err := s.queues.Enqueue(target, content.Clear()); err != nil {
		return Receipt{}, err
	}
	submissionsTotal.WithLabelValues(string(content.KindClear)).Inc()
	s.logger.Info().Str("ip", target).Msg("clear queued")
	return s.queued(ctx, target, content.KindClear, "Clear command sent to device"), nil
}

// Heartbeat refreshes the discovery view of a known device. Unknown devices
// are ignored.
func (s *Service) Heartbeat(_ context.Context, address string) bool {
	return s.registry.RecordHeartbeat(strings.TrimSpace(address))
}

// AnnounceDiscovered publishes the first discovery of a device.
func (s *Service) AnnounceDiscovered(ctx context.Context, address string) {
	s.publish(ctx, events.New(events.DeviceDiscovered, address))
}

// SweepTimeouts marks stale devices offline and announces poll-view
// transitions.
func (s *Service) SweepTimeouts(ctx context.Context) device.SweepResult {
	result := s.registry.SweepTimeouts(s.registry.Now())
	for _, addr := range result.Poll {
		s.publish(ctx, events.New(events.DeviceOffline, addr))
	}
	return result
}

// Wait blocks until background archive uploads finish.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) resolveTarget(explicit string) (string, error) {
	target := strings.TrimSpace(explicit)
	if target == "" {
		target = s.registry.DefaultTarget()
	}
	if target == "" {
		return "", ErrNoTargetConfigured
	}
	if !device.IsValidAddress(target) {
		return "", fmt.Errorf("target %q: %w", target, device.ErrInvalidAddress)
	}
	return target, nil
}

func (s *Service) allowedType(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	for _, allowed := range s.cfg.AllowedImageTypes {
		if mime == allowed {
			return true
		}
	}
	return false
}

func (s *Service) queued(ctx context.Context, target string, kind content.Kind, message string) Receipt {
	depth, _ := s.queues.Len(target)
	ev := events.New(events.ContentQueued, target)
	ev.Content = string(kind)
	ev.QueueLength = depth
	s.publish(ctx, ev)
	return Receipt{Device: target, QueueLength: depth, Message: message}
}

// publish never fails the caller; broker trouble is logged.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("type", string(ev.Type)).Str("ip", ev.Device).Msg("event publish failed")
	}
}

func (s *Service) archiveFrame(target string, bitmap []byte) {
	if s.archive == nil {
		return
	}
	w, h := s.renderer.Size()
	frame := archive.Frame{
		ID:        uuid.NewString(),
		Device:    target,
		Width:     w,
		Height:    h,
		Pixels:    bitmap,
		CreatedAt: time.Now(),
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		key, err := s.archive.Save(ctx, frame)
		if err != nil {
			archiveFailures.Inc()
			s.logger.Warn().Err(err).Str("ip", target).Msg("frame archive failed")
			return
		}
		s.logger.Debug().Str("ip", target).Str("key", key).Msg("frame archived")
	}()
}
