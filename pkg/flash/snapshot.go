package flash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Snapshot layout:
// - Magic "FKVX" (4 bytes)
// - Region size, page size, sector size (uint32 LE each)
// - xxhash64 of the raw region bytes (uint64 LE)
// - zstd stream of the raw region bytes
const (
	snapshotMagic      = "FKVX"
	snapshotHeaderSize = 4 + 4*3 + 8
)

var (
	// ErrBadSnapshot is returned when a snapshot header or payload is malformed
	ErrBadSnapshot = errors.New("bad flash snapshot")
	// ErrGeometryMismatch is returned when a snapshot was taken from a differently shaped region
	ErrGeometryMismatch = errors.New("snapshot geometry does not match region")
)

// SnapshotInfo describes an exported image.
type SnapshotInfo struct {
	Size       uint32
	PageSize   uint32
	SectorSize uint32
	Digest     uint64
}

// Export writes a compressed copy of the raw region to w.
func Export(dev Device, region Region, w io.Writer) (SnapshotInfo, error) {
	raw := make([]byte, 0, region.Size)
	if err := forEachPage(dev, region, func(page []byte) error {
		raw = append(raw, page...)
		return nil
	}); err != nil {
		return SnapshotInfo{}, err
	}

	info := SnapshotInfo{
		Size:       region.Size,
		PageSize:   region.PageSize,
		SectorSize: region.SectorSize,
		Digest:     xxhash.Sum64(raw),
	}

	header := make([]byte, snapshotHeaderSize)
	copy(header, snapshotMagic)
	binary.LittleEndian.PutUint32(header[4:], info.Size)
	binary.LittleEndian.PutUint32(header[8:], info.PageSize)
	binary.LittleEndian.PutUint32(header[12:], info.SectorSize)
	binary.LittleEndian.PutUint64(header[16:], info.Digest)
	if _, err := w.Write(header); err != nil {
		return SnapshotInfo{}, fmt.Errorf("failed to write snapshot header: %w", err)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return SnapshotInfo{}, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return SnapshotInfo{}, fmt.Errorf("failed to finish snapshot: %w", err)
	}

	return info, nil
}

// Import restores a snapshot produced by Export into the region. The region
// is erased and rewritten page by page, so a failure part way through leaves
// it partially programmed.
func Import(dev Device, region Region, r io.Reader) (SnapshotInfo, error) {
	header := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return SnapshotInfo{}, fmt.Errorf("%w: short header: %v", ErrBadSnapshot, err)
	}
	if !bytes.Equal(header[:4], []byte(snapshotMagic)) {
		return SnapshotInfo{}, fmt.Errorf("%w: bad magic %q", ErrBadSnapshot, header[:4])
	}

	info := SnapshotInfo{
		Size:       binary.LittleEndian.Uint32(header[4:]),
		PageSize:   binary.LittleEndian.Uint32(header[8:]),
		SectorSize: binary.LittleEndian.Uint32(header[12:]),
		Digest:     binary.LittleEndian.Uint64(header[16:]),
	}
	if info.Size != region.Size || info.PageSize != region.PageSize {
		return info, fmt.Errorf("%w: snapshot %d/%d, region %d/%d",
			ErrGeometryMismatch, info.Size, info.PageSize, region.Size, region.PageSize)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return info, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw := make([]byte, info.Size)
	if _, err := io.ReadFull(dec, raw); err != nil {
		return info, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if got := xxhash.Sum64(raw); got != info.Digest {
		return info, fmt.Errorf("%w: digest %016x, expected %016x", ErrBadSnapshot, got, info.Digest)
	}

	if err := dev.Erase(region.Base, region.Size); err != nil {
		return info, fmt.Errorf("failed to erase region: %w", err)
	}
	for off := uint32(0); off < region.Size; off += region.PageSize {
		page := raw[off : off+region.PageSize]
		if isErased(page) {
			continue
		}
		if err := dev.Write(region.Base+off, page); err != nil {
			return info, fmt.Errorf("failed to write page at 0x%x: %w", region.Base+off, err)
		}
	}

	return info, nil
}

func isErased(page []byte) bool {
	for _, b := range page {
		if b != ErasedByte {
			return false
		}
	}
	return true
}
