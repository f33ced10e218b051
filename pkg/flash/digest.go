package flash

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Digest returns the xxhash64 of the whole region, read one page at a time.
// Two saves of the same map produce the same digest.
func Digest(dev Device, region Region) (uint64, error) {
	h := xxhash.New()
	if err := forEachPage(dev, region, func(page []byte) error {
		_, err := h.Write(page)
		return err
	}); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// forEachPage reads the region in PageSize chunks and hands each to fn.
// The slice is reused between calls.
func forEachPage(dev Device, region Region, fn func(page []byte) error) error {
	page := make([]byte, region.PageSize)
	for off := uint32(0); off < region.Size; off += region.PageSize {
		if err := dev.Read(region.Base+off, page); err != nil {
			return fmt.Errorf("failed to read page at 0x%x: %w", region.Base+off, err)
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}
