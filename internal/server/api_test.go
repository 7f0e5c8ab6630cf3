package server

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/epdrelay/internal/core"
	"github.com/joshp123/epdrelay/internal/device"
	"github.com/joshp123/epdrelay/internal/rate"
	"github.com/joshp123/epdrelay/internal/relay"
	"github.com/joshp123/epdrelay/internal/render"
	"github.com/joshp123/epdrelay/internal/uploads"
)

const (
	testWidth  = 16
	testHeight = 8
)

type apiFixture struct {
	handler  http.Handler
	registry *device.Registry
	spoolDir string
	now      time.Time
}

func newAPIFixture(t *testing.T, maxUpload int64, opts relay.Options) *apiFixture {
	t.Helper()
	f := &apiFixture{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.registry = device.NewRegistry(device.Config{Now: clock}, zerolog.Nop())
	pipeline := render.NewPipeline(render.Config{Width: testWidth, Height: testHeight}, zerolog.Nop())
	svc := relay.NewService(relay.Config{}, f.registry, pipeline, opts, zerolog.Nop())

	f.spoolDir = t.TempDir()
	spool, err := uploads.New(f.spoolDir, maxUpload, zerolog.Nop())
	require.NoError(t, err)

	probe := core.NewProbe(core.Manifest{ID: "relay", DisplayName: "Relay"})
	api := NewAPI(svc, spool, APIOptions{
		Metrics: prometheus.NewRegistry(),
		Status:  core.NewStatusService([]core.Component{probe}),
		Now:     clock,
	}, zerolog.Nop())
	f.handler = api.Handler()
	return f
}

func (f *apiFixture) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func (f *apiFixture) postImage(t *testing.T, deviceIP, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if deviceIP != "" {
		require.NoError(t, mw.WriteField("deviceIp", deviceIP))
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="photo.bin"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/send-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func (f *apiFixture) queueLen(t *testing.T, ip string) int {
	t.Helper()
	n, err := f.registry.Queues().Len(ip)
	require.NoError(t, err)
	return n
}

func (f *apiFixture) spoolEmpty(t *testing.T) bool {
	t.Helper()
	entries, err := os.ReadDir(f.spoolDir)
	require.NoError(t, err)
	return len(entries) == 0
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 12), uint8(y * 25), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeGIF(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), []color.Color{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestTextRoundTripOverHTTP(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})

	rr := f.postJSON(t, "/register-device", map[string]string{"ip": "10.0.0.5"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Device registered with IP 10.0.0.5", decodeBody(t, rr)["message"])

	rr = f.postJSON(t, "/send-text", map[string]string{
		"text":     "hello world this is a longer line that needs wrapping for sure",
		"deviceIp": "10.0.0.5",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "10.0.0.5", body["deviceIp"])
	assert.EqualValues(t, 1, body["queueLength"])

	rr = f.postJSON(t, "/poll-content", map[string]string{"ip": "10.0.0.5"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t,
		`{"type":"text","data":"hello world this is a longer line that needs\nwrapping for sure","textSize":"medium"}`,
		rr.Body.String())

	rr = f.postJSON(t, "/poll-content", map[string]string{"ip": "10.0.0.5"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"type":"none"}`, rr.Body.String())
}

func TestFormBodiesAreAccepted(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})

	form := url.Values{"ip": {"10.0.0.7"}}
	req := httptest.NewRequest(http.MethodPost, "/set-device", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Device IP set to 10.0.0.7", decodeBody(t, rr)["message"])
	assert.Equal(t, "10.0.0.7", f.registry.DefaultTarget())

	rr = f.postJSON(t, "/clear-display", map[string]string{})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, f.queueLen(t, "10.0.0.7"))
}

func TestRegisterValidation(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})

	rr := f.postJSON(t, "/register-device", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "IP address is required", decodeBody(t, rr)["error"])

	rr = f.postJSON(t, "/register-device", map[string]string{"ip": "300.1.1.1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid IP address format", decodeBody(t, rr)["error"])

	req := httptest.NewRequest(http.MethodPost, "/register-device", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, f.registry.List())
}

func TestPollUnknownDeviceIsBadRequest(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})

	rr := f.postJSON(t, "/poll-content", map[string]string{"ip": "10.0.0.9"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Device not registered", decodeBody(t, rr)["error"])
}

func TestSendTextErrors(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})

	rr := f.postJSON(t, "/send-text", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "No device IP specified or set", decodeBody(t, rr)["error"])

	rr = f.postJSON(t, "/send-text", map[string]string{"text": "hi", "deviceIp": "10.0.0.5"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.postJSON(t, "/send-text", map[string]string{"deviceIp": "10.0.0.5"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Text is required", decodeBody(t, rr)["error"])

	rr = f.postJSON(t, "/send-text", map[string]string{"text": strings.Repeat("x", 1001), "deviceIp": "10.0.0.5"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Text is too long. Maximum length is 1000 characters.", decodeBody(t, rr)["error"])
}

func TestDeviceQueueEndpoint(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/device-queue").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/device-queue?ip=10.0.0.5").Code)

	require.Equal(t, http.StatusOK, f.postJSON(t, "/register-device", map[string]string{"ip": "10.0.0.5"}).Code)
	rr := f.get(t, "/device-queue?ip=10.0.0.5")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":[]}`, rr.Body.String())

	require.Equal(t, http.StatusOK, f.postJSON(t, "/clear-display", map[string]string{"deviceIp": "10.0.0.5"}).Code)
	rr = f.get(t, "/device-queue?ip=10.0.0.5")
	assert.JSONEq(t, `{"queue":[{"type":"clear"}]}`, rr.Body.String())
	assert.Equal(t, 1, f.queueLen(t, "10.0.0.5"))
}

func TestSendImageRejectsGIFBeforeQueueing(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})
	require.Equal(t, http.StatusOK, f.postJSON(t, "/register-device", map[string]string{"ip": "10.0.0.5"}).Code)

	rr := f.postImage(t, "10.0.0.5", "image/gif", encodeGIF(t))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid image type. Allowed types: image/jpeg, image/png", decodeBody(t, rr)["error"])
	assert.Zero(t, f.queueLen(t, "10.0.0.5"))
	assert.True(t, f.spoolEmpty(t))

	// A GIF declared as a generic stream is sniffed and still rejected.
	rr = f.postImage(t, "10.0.0.5", "application/octet-stream", encodeGIF(t))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, f.queueLen(t, "10.0.0.5"))
	assert.True(t, f.spoolEmpty(t))
}

func TestSendImageQueuesBitmap(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})
	require.Equal(t, http.StatusOK, f.postJSON(t, "/register-device", map[string]string{"ip": "10.0.0.5"}).Code)

	rr := f.postImage(t, "10.0.0.5", "image/png", encodePNG(t))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Image processed and sent to device", decodeBody(t, rr)["message"])
	assert.True(t, f.spoolEmpty(t))

	rr = f.postJSON(t, "/poll-content", map[string]string{"ip": "10.0.0.5"})
	require.Equal(t, http.StatusOK, rr.Code)
	var item struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &item))
	assert.Equal(t, "processed_image", item.Type)
	raw, err := base64.StdEncoding.DecodeString(item.Data)
	require.NoError(t, err)
	require.Len(t, raw, testWidth*testHeight)
	for _, b := range raw {
		assert.True(t, b == 0 || b == 255)
	}
}

func TestSendImageRefusesOversizedCanvas(t *testing.T) {
	f := newAPIFixture(t, 1<<20, relay.Options{})
	require.Equal(t, http.StatusOK, f.postJSON(t, "/register-device", map[string]string{"ip": "10.0.0.5"}).Code)

	src := encodePNG(t)
	binary.BigEndian.PutUint32(src[16:20], 20000)
	binary.BigEndian.PutUint32(src[20:24], 20000)
	binary.BigEndian.PutUint32(src[29:33], crc32.ChecksumIEEE(src[12:29]))

	rr := f.postImage(t, "10.0.0.5", "image/png", src)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["error"], "exceeds pixel limit")
	assert.Zero(t, f.queueLen(t, "10.0.0.5"))
	assert.True(t, f.spoolEmpty(t))
}

func TestSendImageErrors(t *testing.T) {
	f := newAPIFixture(t, 64, relay.Options{})
	require.Equal(t, http.StatusOK, f.postJSON(t, "/register-device", map[string]string{"ip": "10.0.0.5"}).Code)

	rr := f.postImage(t, "10.0.0.5", "image/png", encodePNG(t))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.True(t, f.spoolEmpty(t))

	rr = f.postImage(t, "10.0.0.6", "image/png", []byte("tiny"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.True(t, f.spoolEmpty(t))

	rr = f.postImage(t, "10.0.0.5", "image/png", []byte("not really a png"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["error"], "Error processing image: ")
	assert.Zero(t, f.queueLen(t, "10.0.0.5"))
	assert.True(t, f.spoolEmpty(t))

	req := httptest.NewRequest(http.MethodPost, "/send-image", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHeartbeatNeverFails(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})

	rr := f.postJSON(t, "/heartbeat", map[string]string{"ip": "10.0.0.9"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	assert.Empty(t, f.registry.List())
}

func TestDevicesListing(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})
	require.Equal(t, http.StatusOK, f.postJSON(t, "/register-device", map[string]string{"ip": "10.0.0.5"}).Code)
	require.Equal(t, http.StatusOK, f.postJSON(t, "/set-device", map[string]string{"ip": "10.0.0.6"}).Code)
	require.Equal(t, http.StatusOK, f.postJSON(t, "/heartbeat", map[string]string{"ip": "10.0.0.5"}).Code)

	rr := f.get(t, "/devices")
	require.Equal(t, http.StatusOK, rr.Code)
	var listing struct {
		Devices []deviceJSON `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Len(t, listing.Devices, 2)

	first := listing.Devices[0]
	assert.Equal(t, "10.0.0.5", first.IP)
	assert.False(t, first.Active)
	assert.Equal(t, "online", first.Status)
	assert.True(t, first.Online)
	require.NotNil(t, first.LastFetch)
	assert.Equal(t, f.now.UnixMilli(), *first.LastFetch)

	second := listing.Devices[1]
	assert.True(t, second.Active)
	assert.Equal(t, "unknown", second.Status)
	assert.Equal(t, "Never", second.LastSeen)
	assert.Nil(t, second.LastFetch)

	rr = f.get(t, "/devices/discovery")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t,
		`{"devices":[{"ip":"10.0.0.5","active":false,"online":true},{"ip":"10.0.0.6","active":true,"online":false}]}`,
		rr.Body.String())
}

func TestPollThrottle(t *testing.T) {
	guard := rate.NewGuard(rate.Named("poll").MinInterval(2 * time.Second))
	f := newAPIFixture(t, 0, relay.Options{Throttle: guard})
	require.Equal(t, http.StatusOK, f.postJSON(t, "/register-device", map[string]string{"ip": "10.0.0.5"}).Code)

	require.Equal(t, http.StatusOK, f.postJSON(t, "/poll-content", map[string]string{"ip": "10.0.0.5"}).Code)

	rr := f.postJSON(t, "/poll-content", map[string]string{"ip": "10.0.0.5"})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	body := decodeBody(t, rr)
	assert.Equal(t, "Polling too frequently", body["error"])
	assert.EqualValues(t, 2000, body["retryAfter"])

	f.now = f.now.Add(2 * time.Second)
	assert.Equal(t, http.StatusOK, f.postJSON(t, "/poll-content", map[string]string{"ip": "10.0.0.5"}).Code)
}

func TestOperationalEndpoints(t *testing.T) {
	f := newAPIFixture(t, 0, relay.Options{})

	rr := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = f.get(t, "/status")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "HEALTHY", body["status"])

	assert.Equal(t, http.StatusOK, f.get(t, "/metrics").Code)

	req := httptest.NewRequest(http.MethodOptions, "/send-text", nil)
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
