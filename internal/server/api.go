package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/joshp123/epdrelay/internal/content"
	"github.com/joshp123/epdrelay/internal/core"
	"github.com/joshp123/epdrelay/internal/device"
	"github.com/joshp123/epdrelay/internal/relay"
	"github.com/joshp123/epdrelay/internal/render"
	"github.com/joshp123/epdrelay/internal/uploads"
)

var errMalformedBody = errors.New("malformed request body")

const (
	// multipartOverhead covers form fields and part headers on top of the
	// image itself.
	multipartOverhead = 1 << 20
	maxFieldBytes     = 1 << 10
	maxJSONBytes      = 64 << 10
	sniffBytes        = 512
)

// APIOptions carries the optional surfaces of the HTTP API.
type APIOptions struct {
	Metrics    *prometheus.Registry
	Status     *core.StatusService
	Dashboards map[string][]byte
	// PublicDir is served at / when set.
	PublicDir string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// API is the HTTP boundary of the relay.
type API struct {
	relay  *relay.Service
	spool  *uploads.Spool
	opts   APIOptions
	logger zerolog.Logger
	router *mux.Router
}

func NewAPI(svc *relay.Service, spool *uploads.Spool, opts APIOptions, logger zerolog.Logger) *API {
	a := &API{
		relay:  svc,
		spool:  spool,
		opts:   opts,
		logger: logger.With().Str("component", "http").Logger(),
		router: mux.NewRouter(),
	}
	a.setupRoutes()
	return a
}

func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) setupRoutes() {
	a.router.Use(loggingMiddleware(a.logger))
	a.router.Use(corsMiddleware)

	a.router.HandleFunc("/register-device", a.handleRegister).Methods(http.MethodPost, http.MethodOptions)
	a.router.HandleFunc("/set-device", a.handleSetDevice).Methods(http.MethodPost, http.MethodOptions)
	a.router.HandleFunc("/poll-content", a.handlePoll).Methods(http.MethodPost, http.MethodOptions)
	a.router.HandleFunc("/devices", a.handleDevices).Methods(http.MethodGet)
	a.router.HandleFunc("/devices/discovery", a.handleDiscoveryDevices).Methods(http.MethodGet)
	a.router.HandleFunc("/device-queue", a.handleDeviceQueue).Methods(http.MethodGet)
	a.router.HandleFunc("/send-text", a.handleSendText).Methods(http.MethodPost, http.MethodOptions)
	a.router.HandleFunc("/send-image", a.handleSendImage).Methods(http.MethodPost, http.MethodOptions)
	a.router.HandleFunc("/clear-display", a.handleClear).Methods(http.MethodPost, http.MethodOptions)
	a.router.HandleFunc("/heartbeat", a.handleHeartbeat).Methods(http.MethodPost, http.MethodOptions)

	a.router.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	if a.opts.Status != nil {
		a.router.Handle("/status", StatusHandler(a.opts.Status)).Methods(http.MethodGet)
	}
	if a.opts.Metrics != nil {
		a.router.Handle("/metrics", MetricsHandler(a.opts.Metrics)).Methods(http.MethodGet)
	}
	if len(a.opts.Dashboards) > 0 {
		a.router.PathPrefix("/dashboards/").Handler(DashboardsHandler(a.opts.Dashboards)).Methods(http.MethodGet, http.MethodHead)
	}
	if a.opts.PublicDir != "" {
		a.router.PathPrefix("/").Handler(http.FileServer(http.Dir(a.opts.PublicDir))).Methods(http.MethodGet)
	}
}

func (a *API) now() time.Time {
	if a.opts.Now != nil {
		return a.opts.Now()
	}
	return time.Now()
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	ip := p.get("ip")
	if err := a.relay.RegisterDevice(r.Context(), ip); err != nil {
		a.fail(w, err)
		return
	}
	writeSuccess(w, "Device registered with IP "+ip)
}

func (a *API) handleSetDevice(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	ip := p.get("ip")
	if err := a.relay.SetDefaultDevice(r.Context(), ip); err != nil {
		a.fail(w, err)
		return
	}
	writeSuccess(w, "Device IP set to "+ip)
}

// handlePoll answers an unknown device with 400, not 404: displays treat any
// 4xx as "register again".
func (a *API) handlePoll(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	item, err := a.relay.Poll(r.Context(), p.get("ip"))
	if err != nil {
		if errors.Is(err, device.ErrUnknownDevice) {
			writeError(w, "Device not registered", http.StatusBadRequest)
			return
		}
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type deviceJSON struct {
	IP          string `json:"ip"`
	Active      bool   `json:"active"`
	LastFetch   *int64 `json:"lastFetch"`
	Status      string `json:"status"`
	LastSeen    string `json:"lastSeen"`
	Online      bool   `json:"online"`
	Discovery   string `json:"discovery"`
	QueueLength int    `json:"queueLength"`
}

type discoveryDeviceJSON struct {
	IP     string `json:"ip"`
	Active bool   `json:"active"`
	Online bool   `json:"online"`
}

func (a *API) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices := a.relay.ListDevices()
	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		view := deviceJSON{
			IP:          d.Address,
			Active:      d.Default,
			Status:      string(d.Status),
			LastSeen:    "Never",
			Online:      d.Discovery == device.LivenessOnline,
			Discovery:   string(d.Discovery),
			QueueLength: d.QueueLength,
		}
		if !d.LastPoll.IsZero() {
			ms := d.LastPoll.UnixMilli()
			view.LastFetch = &ms
			view.LastSeen = d.LastPoll.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (a *API) handleDiscoveryDevices(w http.ResponseWriter, _ *http.Request) {
	devices := a.relay.ListDevices()
	out := make([]discoveryDeviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, discoveryDeviceJSON{
			IP:     d.Address,
			Active: d.Default,
			Online: d.Discovery == device.LivenessOnline,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (a *API) handleDeviceQueue(w http.ResponseWriter, r *http.Request) {
	items, err := a.relay.DeviceQueue(r.URL.Query().Get("ip"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if items == nil {
		items = []content.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": items})
}

func (a *API) handleSendText(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	receipt, err := a.relay.SubmitText(r.Context(), relay.TextRequest{
		Text:   p.get("text"),
		Device: p.get("deviceIp"),
		Size:   p.get("textSize"),
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeReceipt(w, receipt)
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	receipt, err := a.relay.Clear(r.Context(), p.get("deviceIp"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeReceipt(w, receipt)
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err == nil {
		a.relay.Heartbeat(r.Context(), p.get("ip"))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleSendImage streams the multipart body: the image part goes straight to
// the spool unless its declared type is already rejected.
func (a *API) handleSendImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.spool.MaxBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		a.fail(w, fmt.Errorf("%w: %v", errMalformedBody, err))
		return
	}

	var (
		req  relay.ImageRequest
		file *uploads.File
	)
	defer func() {
		if file != nil {
			file.Release()
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.fail(w, multipartError(err))
			return
		}

		switch part.FormName() {
		case "image":
			if file != nil {
				_ = part.Close()
				continue
			}
			req.MIMEType = partType(part.Header.Get("Content-Type"))
			if req.MIMEType != "" && req.MIMEType != "application/octet-stream" && !a.relay.AllowsImageType(req.MIMEType) {
				_ = part.Close()
				continue
			}
			file, err = a.spool.Save(part, part.FileName())
			if err != nil {
				_ = part.Close()
				a.fail(w, multipartError(err))
				return
			}
			if req.MIMEType == "" || req.MIMEType == "application/octet-stream" {
				req.MIMEType = sniffFile(file.Path)
			}
		case "deviceIp":
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				_ = part.Close()
				a.fail(w, multipartError(err))
				return
			}
			req.Device = strings.TrimSpace(string(value))
		}
		_ = part.Close()
	}

	if file != nil {
		req.Path = file.Path
		req.Release = file.Release
	}
	receipt, err := a.relay.SubmitImage(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeReceipt(w, receipt)
}

func multipartError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) || errors.Is(err, uploads.ErrTooLarge) {
		return err
	}
	return fmt.Errorf("%w: %v", errMalformedBody, err)
}

func partType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}

func sniffFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf := make([]byte, sniffBytes)
	n, _ := io.ReadFull(f, buf)
	return render.DetectType(buf[:n])
}

// params holds request fields from a JSON body, a form body or the query.
type params map[string]string

func (p params) get(name string) string {
	return strings.TrimSpace(p[name])
}

func readParams(r *http.Request) (params, error) {
	p := params{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			p[k] = v[0]
		}
	}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "application/json":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return p, nil
		}
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		for k, v := range fields {
			switch val := v.(type) {
			case string:
				p[k] = val
			case float64, bool:
				p[k] = fmt.Sprint(val)
			}
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				p[k] = v[0]
			}
		}
	}
	return p, nil
}
