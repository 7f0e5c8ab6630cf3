// Package content defines the items queued for a display and their wire form.
package content

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind tags a queued item.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "processed_image"
	KindClear Kind = "clear"
	// KindNone is only ever sent to a polling device with an empty queue.
	KindNone Kind = "none"
)

// Item is one unit of content for a display. Build it with Text, Image or
// Clear; the zero value is not a valid queued item.
type Item struct {
	kind      Kind
	body      string
	sizeClass string
	bitmap    []byte
}

// Text builds a text item. body is expected to be already wrapped.
func Text(body, sizeClass string) Item {
	return Item{kind: KindText, body: body, sizeClass: sizeClass}
}

// Image builds an image item from a raw monochrome bitmap. The slice is copied.
func Image(bitmap []byte) Item {
	return Item{kind: KindImage, bitmap: append([]byte(nil), bitmap...)}
}

// Clear builds a clear-screen item.
func Clear() Item {
	return Item{kind: KindClear}
}

// None is the sentinel returned to a device polling an empty queue.
func None() Item {
	return Item{kind: KindNone}
}

func (i Item) Kind() Kind { return i.kind }

func (i Item) Body() string { return i.body }

func (i Item) SizeClass() string { return i.sizeClass }

// Bitmap returns a copy of the raw bitmap of an image item.
func (i Item) Bitmap() []byte {
	if i.bitmap == nil {
		return nil
	}
	return append([]byte(nil), i.bitmap...)
}

// wireItem is the JSON shape the display firmware parses.
type wireItem struct {
	Type     Kind   `json:"type"`
	Data     string `json:"data,omitempty"`
	TextSize string `json:"textSize,omitempty"`
}

func (i Item) MarshalJSON() ([]byte, error) {
	w := wireItem{Type: i.kind}
	switch i.kind {
	case KindText:
		w.Data = i.body
		w.TextSize = i.sizeClass
	case KindImage:
		w.Data = base64.StdEncoding.EncodeToString(i.bitmap)
	case KindClear, KindNone:
	default:
		return nil, fmt.Errorf("content: unknown item kind %q", i.kind)
	}
	return json.Marshal(w)
}

func (i *Item) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case KindText:
		*i = Text(w.Data, w.TextSize)
	case KindImage:
		raw, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return fmt.Errorf("content: decode image data: %w", err)
		}
		*i = Item{kind: KindImage, bitmap: raw}
	case KindClear:
		*i = Clear()
	case KindNone:
		*i = None()
	default:
		return fmt.Errorf("content: unknown item type %q", w.Type)
	}
	return nil
}
