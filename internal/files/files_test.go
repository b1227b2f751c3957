package files

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"agridetect/internal/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateImage(t *testing.T) {
	img := pngBytes(t)

	info, err := ValidateImage(img, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.MIMEType)
	assert.Equal(t, ".png", info.Extension)

	_, err = ValidateImage(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = ValidateImage(img, 10)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = ValidateImage([]byte("%PDF-1.4 not an image"), 0)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeDataURL(t *testing.T) {
	img := pngBytes(t)
	enc := base64.StdEncoding.EncodeToString(img)

	got, err := DecodeDataURL("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, img, got)

	got, err = DecodeDataURL(enc)
	require.NoError(t, err)
	assert.Equal(t, img, got)

	_, err = DecodeDataURL("data:image/png," + enc)
	assert.ErrorIs(t, err, ErrBadDataURL)
	_, err = DecodeDataURL("!!!")
	assert.ErrorIs(t, err, ErrBadDataURL)
}

func TestImageStoreEncrypted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewImageStore(dir, crypto.MustRandom(32))
	require.NoError(t, err)
	assert.True(t, store.Encrypted())

	img := pngBytes(t)
	name, err := store.Save(img, ".png")
	require.NoError(t, err)
	assert.Equal(t, ".enc", filepath.Ext(name))

	raw, err := os.ReadFile(filepath.Join(dir, "uploads", "detections", name))
	require.NoError(t, err)
	assert.NotEqual(t, img, raw, "image must not be stored in clear")

	got, err := store.Read(name)
	require.NoError(t, err)
	assert.Equal(t, img, got)

	require.NoError(t, store.Delete(name))
	require.NoError(t, store.Delete(name), "second delete is a no-op")
	_, err = store.Read(name)
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestImageStorePlain(t *testing.T) {
	store, err := NewImageStore(t.TempDir(), nil)
	require.NoError(t, err)

	name, err := store.Save([]byte("jpeg-bytes"), ".jpg")
	require.NoError(t, err)
	got, err := store.Read(name)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), got)

	_, err = store.Read("../escape.jpg")
	assert.Error(t, err)

	_, err = NewImageStore(t.TempDir(), []byte("short"))
	assert.ErrorIs(t, err, crypto.ErrInvalidKeyLength)
}
