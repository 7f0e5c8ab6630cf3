package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/epdrelay/internal/archive"
	"github.com/joshp123/epdrelay/internal/render"
)

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 8)
	}
	img.Set(0, 0, color.Gray{Y: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestClientSurfacesRelayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"Polling too frequently","retryAfter":1500}`)
	}))
	defer srv.Close()

	var item queueItem
	err := newRelayClient(srv.URL).postJSON(context.Background(), "/poll-content", map[string]string{"ip": "10.0.0.5"}, &item)
	require.Error(t, err)

	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "Polling too frequently", apiErr.Message)
	assert.EqualValues(t, 1500, apiErr.RetryAfter)
}

func TestSendImageUploadsSniffedType(t *testing.T) {
	var (
		gotType   string
		gotDevice string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if err == nil {
			_ = file.Close()
			gotType = header.Header.Get("Content-Type")
		}
		gotDevice = r.FormValue("deviceIp")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"message":"Image processed and sent to device","deviceIp":"10.0.0.5","queueLength":1}`)
	}))
	defer srv.Close()

	path := writePNG(t, t.TempDir())
	resp, err := newRelayClient(srv.URL+"/").sendImage(context.Background(), path, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, "10.0.0.5", gotDevice)
	require.NotNil(t, resp.QueueLength)
	assert.Equal(t, 1, *resp.QueueLength)
}

func TestConvertFile(t *testing.T) {
	path := writePNG(t, t.TempDir())
	box := render.Letterbox{Width: 10, Height: 6}

	raw, err := convertFile(box, path, formatRaw)
	require.NoError(t, err)
	assert.Len(t, raw, 5*6)

	bmp, err := convertFile(box, path, formatBMP)
	require.NoError(t, err)
	assert.Equal(t, "BM", string(bmp[:2]))

	_, err = convertFile(box, path, "tga")
	require.Error(t, err)
}

func TestDescribeItem(t *testing.T) {
	assert.Equal(t, "hello⏎world", describeItem(queueItem{Type: "text", Data: "hello\nworld"}))
	assert.Equal(t, "3 bytes bitmap", describeItem(queueItem{Type: "processed_image", Data: "AP//"}))
	assert.Empty(t, describeItem(queueItem{Type: "clear"}))
}

func TestSendImageReturnsEmptyReceiptOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Device not registered","deviceIp":"10.0.0.9"}`)
	}))
	defer srv.Close()

	path := writePNG(t, t.TempDir())
	resp, err := newRelayClient(srv.URL).sendImage(context.Background(), path, "10.0.0.9")
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, receipt{}, resp)
}

type memoryFrames struct {
	objects []archive.Object
	data    map[string][]byte
	device  string
}

func (m *memoryFrames) List(_ context.Context, device string) ([]archive.Object, error) {
	m.device = device
	return m.objects, nil
}

func (m *memoryFrames) Load(_ context.Context, key string) ([]byte, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrFrameNotFound, key)
	}
	return data, nil
}

func useFrames(t *testing.T, store frameStore) {
	t.Helper()
	prev := openFrameStore
	openFrameStore = func() (frameStore, error) { return store, nil }
	t.Cleanup(func() { openFrameStore = prev })
}

func runFrames(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newFramesCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFramesList(t *testing.T) {
	key := "epdrelay/frames/10.0.0.5/20250301T123000Z-abc.png"
	store := &memoryFrames{objects: []archive.Object{{
		Key:      key,
		Size:     812,
		Modified: time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
	}}}
	useFrames(t, store)

	out, err := runFrames(t, "list", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", store.device)
	assert.Contains(t, out, key)
	assert.Contains(t, out, "812")
	assert.Contains(t, out, "2025-03-01T12:30:00Z")
}

func TestFramesGet(t *testing.T) {
	key := "epdrelay/frames/10.0.0.5/20250301T123000Z-abc.png"
	useFrames(t, &memoryFrames{data: map[string][]byte{key: []byte("png-bytes")}})
	dst := filepath.Join(t.TempDir(), "frame.png")

	out, err := runFrames(t, "get", key, dst)
	require.NoError(t, err)
	assert.Contains(t, out, "saved "+dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = runFrames(t, "get", "epdrelay/frames/missing.png", dst)
	require.ErrorIs(t, err, archive.ErrFrameNotFound)
}
