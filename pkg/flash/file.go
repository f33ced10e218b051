package flash

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileDevice stores a flash image in a regular file. It is what the CLI uses
// to work with dumps pulled off a board, and what the remote server exposes.
// Geometry rules match MemDevice: page-aligned writes, sector-aligned erases.
type FileDevice struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	size       uint32
	pageSize   uint32
	sectorSize uint32
	syncWrites bool
}

// FileOption configures a FileDevice.
type FileOption func(*FileDevice)

// WithSyncWrites makes every write and erase fsync the image file.
func WithSyncWrites(enabled bool) FileOption {
	return func(d *FileDevice) {
		d.syncWrites = enabled
	}
}

// OpenFile opens or creates an image file of the given size. A new file, or
// the missing tail of a short one, is filled with erased bytes.
func OpenFile(path string, size, pageSize, sectorSize uint32, opts ...FileOption) (*FileDevice, error) {
	if pageSize == 0 || sectorSize == 0 {
		return nil, fmt.Errorf("%w: page and sector size must be positive", ErrInvalidRegion)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat flash image: %w", err)
	}

	if stat.Size() < int64(size) {
		fill := bytes.Repeat([]byte{ErasedByte}, int(int64(size)-stat.Size()))
		if _, err := file.WriteAt(fill, stat.Size()); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to extend flash image: %w", err)
		}
	}

	d := &FileDevice{
		file:       file,
		path:       path,
		size:       size,
		pageSize:   pageSize,
		sectorSize: sectorSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Read implements Device.
func (d *FileDevice) Read(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkRange(addr, uint64(len(buf))); err != nil {
		return err
	}
	n, err := d.file.ReadAt(buf, int64(addr))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read flash image: %w", err)
	}
	// The file shrank under us.
	if n < len(buf) {
		return fmt.Errorf("%w: image ends at %d, read of %d bytes at %d", ErrOutOfRange, int(addr)+n, len(buf), addr)
	}
	return nil
}

// Write implements Device.
func (d *FileDevice) Write(addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkRange(addr, uint64(len(data))); err != nil {
		return err
	}
	if addr%d.pageSize != 0 || uint32(len(data))%d.pageSize != 0 {
		return fmt.Errorf("%w: write of %d bytes at 0x%x with page size %d", ErrUnaligned, len(data), addr, d.pageSize)
	}
	if _, err := d.file.WriteAt(data, int64(addr)); err != nil {
		return fmt.Errorf("failed to write flash image: %w", err)
	}
	return d.maybeSync()
}

// Erase implements Device.
func (d *FileDevice) Erase(addr uint32, n uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkRange(addr, uint64(n)); err != nil {
		return err
	}
	if addr%d.sectorSize != 0 || n%d.sectorSize != 0 {
		return fmt.Errorf("%w: erase of %d bytes at 0x%x with sector size %d", ErrUnaligned, n, addr, d.sectorSize)
	}

	sector := bytes.Repeat([]byte{ErasedByte}, int(d.sectorSize))
	for off := uint64(addr); off < uint64(addr)+uint64(n); off += uint64(d.sectorSize) {
		if _, err := d.file.WriteAt(sector, int64(off)); err != nil {
			return fmt.Errorf("failed to erase flash image: %w", err)
		}
	}
	return d.maybeSync()
}

// Path returns the image file path.
func (d *FileDevice) Path() string {
	return d.path
}

// Size returns the device capacity in bytes.
func (d *FileDevice) Size() uint32 {
	return d.size
}

// Sync flushes the image file to stable storage.
func (d *FileDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Sync()
}

// Close syncs and closes the image file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}
	syncErr := d.file.Sync()
	closeErr := d.file.Close()
	d.file = nil
	if syncErr != nil {
		return fmt.Errorf("failed to sync flash image: %w", syncErr)
	}
	return closeErr
}

func (d *FileDevice) maybeSync() error {
	if !d.syncWrites {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync flash image: %w", err)
	}
	return nil
}

func (d *FileDevice) checkRange(addr uint32, n uint64) error {
	if d.file == nil {
		return fmt.Errorf("flash image %s is closed", d.path)
	}
	if uint64(addr)+n > uint64(d.size) {
		return fmt.Errorf("%w: 0x%x+%d beyond device size %d", ErrOutOfRange, addr, n, d.size)
	}
	return nil
}
