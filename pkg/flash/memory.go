package flash

import (
	"fmt"
	"sync"
)

// Fault identifies which device primitive a test fault is armed on.
type Fault int

const (
	FaultRead Fault = iota
	FaultWrite
	FaultErase
)

func (f Fault) String() string {
	switch f {
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultErase:
		return "erase"
	default:
		return fmt.Sprintf("fault(%d)", int(f))
	}
}

// OpCounts is a snapshot of how often each primitive was called.
type OpCounts struct {
	Reads      uint64
	Writes     uint64
	Erases     uint64
	BytesRead  uint64
	BytesWrite uint64
}

// MemDevice emulates a NOR flash chip in memory. Erased cells read as 0xFF,
// writes must cover whole pages and may only clear bits, and erases must
// cover whole sectors. Faults can be armed to fail the n-th call of a
// primitive, which makes it the test double for everything above it.
type MemDevice struct {
	mu         sync.Mutex
	data       []byte
	pageSize   uint32
	sectorSize uint32

	counts OpCounts
	faults map[Fault]uint64 // calls remaining before the fault fires
}

// NewMemDevice creates an erased device of the given geometry.
func NewMemDevice(size, pageSize, sectorSize uint32) *MemDevice {
	data := make([]byte, size)
	for i := range data {
		data[i] = ErasedByte
	}
	return &MemDevice{
		data:       data,
		pageSize:   pageSize,
		sectorSize: sectorSize,
		faults:     make(map[Fault]uint64),
	}
}

// NewMemDeviceForRegion creates an erased device large enough to hold r at its base address.
func NewMemDeviceForRegion(r Region) *MemDevice {
	return NewMemDevice(uint32(r.End()), r.PageSize, r.SectorSize)
}

// Read implements Device.
func (d *MemDevice) Read(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counts.Reads++
	if err := d.trip(FaultRead); err != nil {
		return err
	}
	if err := d.checkRange(addr, len(buf)); err != nil {
		return err
	}
	copy(buf, d.data[addr:])
	d.counts.BytesRead += uint64(len(buf))
	return nil
}

// Write implements Device.
func (d *MemDevice) Write(addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counts.Writes++
	if err := d.trip(FaultWrite); err != nil {
		return err
	}
	if err := d.checkRange(addr, len(data)); err != nil {
		return err
	}
	if addr%d.pageSize != 0 || uint32(len(data))%d.pageSize != 0 {
		return fmt.Errorf("%w: write of %d bytes at 0x%x with page size %d", ErrUnaligned, len(data), addr, d.pageSize)
	}

	cells := d.data[addr : int(addr)+len(data)]
	for i, b := range data {
		if cells[i]&b != b {
			return fmt.Errorf("%w: address 0x%x", ErrNotErased, int(addr)+i)
		}
	}
	for i, b := range data {
		cells[i] &= b
	}
	d.counts.BytesWrite += uint64(len(data))
	return nil
}

// Erase implements Device.
func (d *MemDevice) Erase(addr uint32, n uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counts.Erases++
	if err := d.trip(FaultErase); err != nil {
		return err
	}
	if err := d.checkRange(addr, int(n)); err != nil {
		return err
	}
	if addr%d.sectorSize != 0 || n%d.sectorSize != 0 {
		return fmt.Errorf("%w: erase of %d bytes at 0x%x with sector size %d", ErrUnaligned, n, addr, d.sectorSize)
	}
	cells := d.data[addr : uint64(addr)+uint64(n)]
	for i := range cells {
		cells[i] = ErasedByte
	}
	return nil
}

// FailAfter arms a fault: the primitive succeeds n more times, then every
// further call fails with ErrInjectedFault until ClearFaults is called.
func (d *MemDevice) FailAfter(f Fault, n uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[f] = n
}

// ClearFaults disarms all faults.
func (d *MemDevice) ClearFaults() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = make(map[Fault]uint64)
}

// Counts returns the primitive call counters.
func (d *MemDevice) Counts() OpCounts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

// ResetCounts zeroes the primitive call counters.
func (d *MemDevice) ResetCounts() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts = OpCounts{}
}

// Bytes returns a copy of the raw device contents.
func (d *MemDevice) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}

// Poke overwrites raw contents without NOR rules, for corrupting images in tests.
func (d *MemDevice) Poke(addr uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.data[addr:], data)
}

// Size returns the device capacity in bytes.
func (d *MemDevice) Size() uint32 {
	return uint32(len(d.data))
}

func (d *MemDevice) trip(f Fault) error {
	remaining, armed := d.faults[f]
	if !armed {
		return nil
	}
	if remaining > 0 {
		d.faults[f] = remaining - 1
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInjectedFault, f)
}

func (d *MemDevice) checkRange(addr uint32, n int) error {
	if n < 0 || uint64(addr)+uint64(n) > uint64(len(d.data)) {
		return fmt.Errorf("%w: 0x%x+%d beyond device size %d", ErrOutOfRange, addr, n, len(d.data))
	}
	return nil
}
