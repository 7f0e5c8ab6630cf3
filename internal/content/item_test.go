package content

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemWireShape(t *testing.T) {
	data, err := json.Marshal(Text("hello\nworld", "large"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","data":"hello\nworld","textSize":"large"}`, string(data))

	data, err = json.Marshal(Image([]byte{0, 255, 255}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"processed_image","data":"AP//"}`, string(data))

	data, err = json.Marshal(Clear())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"clear"}`, string(data))

	data, err = json.Marshal(None())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"none"}`, string(data))
}

func TestItemDecodeImage(t *testing.T) {
	var item Item
	require.NoError(t, json.Unmarshal([]byte(`{"type":"processed_image","data":"AP//"}`), &item))
	assert.Equal(t, KindImage, item.Kind())
	assert.Equal(t, []byte{0, 255, 255}, item.Bitmap())

	require.Error(t, json.Unmarshal([]byte(`{"type":"video"}`), &item))
}

func TestZeroItemDoesNotMarshal(t *testing.T) {
	_, err := json.Marshal(Item{})
	require.Error(t, err)
}

func TestImageCopiesBitmap(t *testing.T) {
	raw := []byte{1, 2, 3}
	item := Image(raw)
	raw[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, item.Bitmap())
}
