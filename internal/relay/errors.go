package relay

import "errors"

var (
	// ErrAddressRequired is returned when a device address is missing.
	ErrAddressRequired = errors.New("IP address is required")
	// ErrTextRequired is returned for an empty text submission.
	ErrTextRequired = errors.New("text is required")
	// ErrTextTooLong is returned when text exceeds the configured maximum.
	ErrTextTooLong = errors.New("text is too long")
	// ErrNoTargetConfigured is returned when no device was named and no
	// default is set.
	ErrNoTargetConfigured = errors.New("no device IP specified or set")
	// ErrUnsupportedImageType is returned for uploads outside the MIME allow-list.
	ErrUnsupportedImageType = errors.New("invalid image type")
	// ErrRenderFailed wraps every render pipeline failure.
	ErrRenderFailed = errors.New("error processing image")
	// ErrImageRequired is returned when an image submission carries no file.
	ErrImageRequired = errors.New("image is required")
)
