package flash

import (
	"bytes"
	"errors"
	"testing"
)

func testRegion() Region {
	return Region{Base: 0, Size: 1024, PageSize: 64, SectorSize: 256}
}

func TestDigestTracksContent(t *testing.T) {
	region := testRegion()
	a := NewMemDeviceForRegion(region)
	b := NewMemDeviceForRegion(region)

	da, err := Digest(a, region)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	db, err := Digest(b, region)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if da != db {
		t.Errorf("Expected identical erased devices to share a digest")
	}

	if err := b.Write(128, bytes.Repeat([]byte{0x42}, 64)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	db, err = Digest(b, region)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if da == db {
		t.Errorf("Expected digest to change after a write")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	region := testRegion()
	src := NewMemDeviceForRegion(region)
	if err := src.Write(0, append([]byte("FKVS"), make([]byte, 60)...)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := src.Write(512, bytes.Repeat([]byte{0x11}, 128)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var snapshot bytes.Buffer
	info, err := Export(src, region, &snapshot)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if info.Size != region.Size || info.PageSize != region.PageSize {
		t.Errorf("Unexpected snapshot geometry: %+v", info)
	}

	dst := NewMemDeviceForRegion(region)
	// Dirty the destination so Import has to erase first
	if err := dst.Write(64, make([]byte, 64)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	imported, err := Import(dst, region, bytes.NewReader(snapshot.Bytes()))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported.Digest != info.Digest {
		t.Errorf("Digest mismatch: export %x, import %x", info.Digest, imported.Digest)
	}
	if !bytes.Equal(src.Bytes(), dst.Bytes()) {
		t.Errorf("Imported device does not match the source")
	}
}

func TestImportRejectsBadSnapshots(t *testing.T) {
	region := testRegion()
	src := NewMemDeviceForRegion(region)

	var snapshot bytes.Buffer
	if _, err := Export(src, region, &snapshot); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	good := snapshot.Bytes()

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		copy(bad, "XXXX")
		_, err := Import(NewMemDeviceForRegion(region), region, bytes.NewReader(bad))
		if !errors.Is(err, ErrBadSnapshot) {
			t.Errorf("Expected ErrBadSnapshot, got %v", err)
		}
	})

	t.Run("digest mismatch", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[16] ^= 0xFF
		_, err := Import(NewMemDeviceForRegion(region), region, bytes.NewReader(bad))
		if !errors.Is(err, ErrBadSnapshot) {
			t.Errorf("Expected ErrBadSnapshot, got %v", err)
		}
	})

	t.Run("geometry mismatch", func(t *testing.T) {
		other := Region{Base: 0, Size: 2048, PageSize: 64, SectorSize: 256}
		_, err := Import(NewMemDeviceForRegion(other), other, bytes.NewReader(good))
		if !errors.Is(err, ErrGeometryMismatch) {
			t.Errorf("Expected ErrGeometryMismatch, got %v", err)
		}
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := Import(NewMemDeviceForRegion(region), region, bytes.NewReader(good[:10]))
		if !errors.Is(err, ErrBadSnapshot) {
			t.Errorf("Expected ErrBadSnapshot, got %v", err)
		}
	})
}
