// Package flash defines the narrow capability interface FlashKV uses to reach
// raw flash memory, the region descriptor that bounds what a store may touch,
// and a few devices built on top of it (an in-memory NOR emulator, a
// file-backed image and, in the remote subpackage, a gRPC-served device).
package flash

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidRegion is returned when a region descriptor violates its invariants
	ErrInvalidRegion = errors.New("invalid flash region")
	// ErrOutOfRange is returned when an access falls outside the device
	ErrOutOfRange = errors.New("flash access out of range")
	// ErrUnaligned is returned when a write or erase is not aligned to the device geometry
	ErrUnaligned = errors.New("unaligned flash access")
	// ErrNotErased is returned by NOR emulation when a write would need to set a cleared bit
	ErrNotErased = errors.New("flash not erased")
	// ErrInjectedFault is returned by test devices when a fault has been armed
	ErrInjectedFault = errors.New("injected flash fault")
)

// SignatureSize is the number of bytes reserved at the start of every region
// for the store signature. A region must hold at least this plus one page.
const SignatureSize = 4

// ErasedByte is the value a NOR flash cell reads back after an erase.
const ErasedByte = 0xFF

// Device is the capability FlashKV needs from a flash driver.
// The length of buf / data is the byte count of the access.
// Implementations report failure only; there is no partial-progress reporting.
type Device interface {
	// Read fills buf with the bytes stored at addr
	Read(addr uint32, buf []byte) error
	// Write programs data at addr; callers write whole pages
	Write(addr uint32, data []byte) error
	// Erase resets n bytes starting at addr to the erased state
	Erase(addr uint32, n uint32) error
}

// Region describes the fixed flash range owned by one store.
type Region struct {
	// Base is the absolute flash address of the first byte
	Base uint32 `json:"base"`
	// Size is the total number of bytes in the region
	Size uint32 `json:"size"`
	// PageSize is the minimum write granularity
	PageSize uint32 `json:"page_size"`
	// SectorSize is the minimum erase granularity
	SectorSize uint32 `json:"sector_size"`
}

// Validate checks the region invariants.
func (r Region) Validate() error {
	if r.PageSize == 0 {
		return fmt.Errorf("%w: page size must be positive", ErrInvalidRegion)
	}
	if r.SectorSize == 0 {
		return fmt.Errorf("%w: sector size must be positive", ErrInvalidRegion)
	}
	if uint64(r.Size) < uint64(SignatureSize)+uint64(r.PageSize) {
		return fmt.Errorf("%w: size %d must hold the signature and at least one %d byte page",
			ErrInvalidRegion, r.Size, r.PageSize)
	}
	if r.Size%r.PageSize != 0 {
		return fmt.Errorf("%w: size %d is not a multiple of page size %d", ErrInvalidRegion, r.Size, r.PageSize)
	}
	if r.Size%r.SectorSize != 0 {
		return fmt.Errorf("%w: size %d is not a multiple of sector size %d", ErrInvalidRegion, r.Size, r.SectorSize)
	}
	if r.Base%r.SectorSize != 0 {
		return fmt.Errorf("%w: base 0x%x is not sector aligned", ErrInvalidRegion, r.Base)
	}
	if uint64(r.Base)+uint64(r.Size) > math.MaxUint32+1 {
		return fmt.Errorf("%w: region 0x%x+%d overflows the address space", ErrInvalidRegion, r.Base, r.Size)
	}
	return nil
}

// End returns the address one past the last byte of the region.
func (r Region) End() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

// Pages returns the number of pages in the region.
func (r Region) Pages() uint32 {
	if r.PageSize == 0 {
		return 0
	}
	return r.Size / r.PageSize
}

// Contains reports whether [addr, addr+n) lies inside the region.
func (r Region) Contains(addr uint32, n uint32) bool {
	return addr >= r.Base && uint64(addr)+uint64(n) <= r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("0x%08x+%d (page %d, sector %d)", r.Base, r.Size, r.PageSize, r.SectorSize)
}
