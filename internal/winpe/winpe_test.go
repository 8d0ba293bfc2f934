package winpe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func image(characteristics uint16) []byte {
	img := make([]byte, 96)
	img[0] = 'M'
	img[1] = 'Z'
	binary.LittleEndian.PutUint32(img[60:64], 64)
	copy(img[64:68], "PE\x00\x00")
	binary.LittleEndian.PutUint16(img[86:88], characteristics)
	return img
}

func TestSetLargeAddressAware(t *testing.T) {
	patched, alreadySet, err := SetLargeAddressAware(image(0x0102))
	require.NoError(t, err)
	assert.False(t, alreadySet)

	bits := binary.LittleEndian.Uint16(patched[86:88])
	assert.EqualValues(t, 0x0122, bits)
}

func TestSetLargeAddressAwareAlreadySet(t *testing.T) {
	src := image(0x0122)
	out, alreadySet, err := SetLargeAddressAware(src)
	require.NoError(t, err)
	assert.True(t, alreadySet)
	assert.Equal(t, src, out)
}

func TestSetLargeAddressAwareDoesNotMutateInput(t *testing.T) {
	src := image(0x0102)
	_, _, err := SetLargeAddressAware(src)
	require.NoError(t, err)
	assert.EqualValues(t, 0x0102, binary.LittleEndian.Uint16(src[86:88]))
}

func TestSetLargeAddressAwareRejectsMalformedImages(t *testing.T) {
	tests := []struct {
		name  string
		image []byte
	}{
		{"empty", nil},
		{"no mz header", make([]byte, 96)},
		{"truncated", []byte{'M', 'Z', 0, 0}},
		{"pe offset out of range", func() []byte {
			img := image(0)
			binary.LittleEndian.PutUint32(img[60:64], 4096)
			return img
		}()},
		{"missing pe signature", func() []byte {
			img := image(0)
			copy(img[64:68], "XX\x00\x00")
			return img
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := SetLargeAddressAware(tt.image)
			assert.Error(t, err)
		})
	}
}
