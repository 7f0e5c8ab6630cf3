// Package archive mirrors rendered frames to S3-compatible object storage so
// operators can see what a display was sent.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrFrameNotFound = errors.New("archived frame not found")

const DefaultPrefix = "epdrelay/frames"

// Frame is one rendered bitmap, one byte per pixel.
type Frame struct {
	ID        string
	Device    string
	Width     int
	Height    int
	Pixels    []byte
	CreatedAt time.Time
}

// Store persists frames.
type Store interface {
	Save(ctx context.Context, frame Frame) (string, error)
}

// Object describes one archived frame.
type Object struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

type Config struct {
	Endpoint      string
	Bucket        string
	Prefix        string
	AccessKeyFile string
	SecretKeyFile string
	Region        string
}

// Enabled reports whether an archive endpoint is configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	accessKeyFile := strings.TrimSpace(cfg.AccessKeyFile)
	secretKeyFile := strings.TrimSpace(cfg.SecretKeyFile)

	if endpoint == "" || bucket == "" || accessKeyFile == "" || secretKeyFile == "" {
		return nil, fmt.Errorf("missing archive configuration")
	}

	accessKey, err := readSecretFile(accessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read archive access key: %w", err)
	}
	secretKey, err := readSecretFile(secretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read archive secret key: %w", err)
	}

	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

// Save uploads frame as a grayscale PNG and returns its object key.
func (s *S3Store) Save(ctx context.Context, frame Frame) (string, error) {
	data, err := EncodePNG(frame)
	if err != nil {
		return "", err
	}
	key := s.key(frame)
	reader := bytes.NewReader(data)
	_, err = s.client.PutObject(ctx, s.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "image/png",
		UserMetadata: map[string]string{
			"device": frame.Device,
			"width":  strconv.Itoa(frame.Width),
			"height": strconv.Itoa(frame.Height),
		},
	})
	if err != nil {
		return "", s.wrapError(err)
	}
	return key, nil
}

// List returns the frames archived for device, or for every device when
// device is empty, oldest key first.
func (s *S3Store) List(ctx context.Context, device string) ([]Object, error) {
	prefix := s.prefix + "/"
	if device != "" {
		prefix = path.Join(s.prefix, device) + "/"
	}
	var objects []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, s.wrapError(info.Err)
		}
		objects = append(objects, Object{Key: info.Key, Size: info.Size, Modified: info.LastModified})
	}
	return objects, nil
}

// Load fetches the PNG stored under key.
func (s *S3Store) Load(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, s.wrapError(err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return data, nil
}

func (s *S3Store) key(frame Frame) string {
	ts := frame.CreatedAt.UTC().Format("20060102T150405Z")
	return path.Join(s.prefix, frame.Device, ts+"-"+frame.ID+".png")
}

func (s *S3Store) wrapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrFrameNotFound, resp.Key)
	}
	return err
}

// EncodePNG wraps the raw pixels of frame in a PNG container.
func EncodePNG(frame Frame) ([]byte, error) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pixels) != frame.Width*frame.Height {
		return nil, fmt.Errorf("frame %dx%d does not match %d pixels", frame.Width, frame.Height, len(frame.Pixels))
	}
	img := &image.Gray{
		Pix:    frame.Pixels,
		Stride: frame.Width,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
