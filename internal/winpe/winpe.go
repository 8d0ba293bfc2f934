// Package winpe performs the single fixed-offset header patch the pipeline
// needs on Windows executables: setting the IMAGE_FILE_LARGE_ADDRESS_AWARE
// characteristics bit so 32-bit binaries can address 4 GB.
package winpe

import (
	"encoding/binary"
	"fmt"
)

const (
	largeAddressAware     = 0x0020
	peHeaderOffsetPos     = 60
	characteristicsOffset = 18
)

// SetLargeAddressAware sets the large-address-aware flag on an in-memory PE
// image. It returns the (possibly modified) image and whether the flag was
// already set. Malformed MZ/PE headers are an error.
func SetLargeAddressAware(image []byte) (out []byte, alreadySet bool, err error) {
	if len(image) < peHeaderOffsetPos+4 || image[0] != 'M' || image[1] != 'Z' {
		return nil, false, fmt.Errorf("missing MZ header")
	}

	peOffset := int(binary.LittleEndian.Uint32(image[peHeaderOffsetPos : peHeaderOffsetPos+4]))
	if peOffset < 0 || len(image) < peOffset+4+characteristicsOffset+2 {
		return nil, false, fmt.Errorf("PE header offset %d out of range", peOffset)
	}
	if string(image[peOffset:peOffset+4]) != "PE\x00\x00" {
		return nil, false, fmt.Errorf("missing PE signature at offset %d", peOffset)
	}

	pos := peOffset + 4 + characteristicsOffset
	bits := binary.LittleEndian.Uint16(image[pos : pos+2])
	if bits&largeAddressAware != 0 {
		return image, true, nil
	}

	patched := make([]byte, len(image))
	copy(patched, image)
	binary.LittleEndian.PutUint16(patched[pos:pos+2], bits|largeAddressAware)
	return patched, false, nil
}
