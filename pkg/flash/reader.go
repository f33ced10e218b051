package flash

import (
	"fmt"
	"io"
)

// Reader reads a region front to back through a Device. Each Read issues
// exactly one device read of the requested length, so a parser that stops
// early never touches the bytes after its last field.
type Reader struct {
	dev    Device
	region Region
	off    uint32 // offset from region base
}

// NewReader returns a Reader positioned at the region base.
func NewReader(dev Device, region Region) *Reader {
	return &Reader{dev: dev, region: region}
}

// Read implements io.Reader. It returns io.EOF at the end of the region and
// io.ErrUnexpectedEOF when p extends past it.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	remaining := r.Remaining()
	if remaining == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > uint64(remaining) {
		return 0, io.ErrUnexpectedEOF
	}
	if err := r.dev.Read(r.region.Base+r.off, p); err != nil {
		return 0, err
	}
	r.off += uint32(len(p))
	return len(p), nil
}

// ReadFull reads exactly len(p) bytes.
func (r *Reader) ReadFull(p []byte) error {
	_, err := r.Read(p)
	return err
}

// Skip advances the cursor without reading.
func (r *Reader) Skip(n uint32) error {
	if n > r.Remaining() {
		return fmt.Errorf("%w: skip %d with %d bytes left", io.ErrUnexpectedEOF, n, r.Remaining())
	}
	r.off += n
	return nil
}

// Offset returns the cursor position relative to the region base.
func (r *Reader) Offset() uint32 {
	return r.off
}

// Remaining returns the number of unread bytes in the region.
func (r *Reader) Remaining() uint32 {
	return r.region.Size - r.off
}
