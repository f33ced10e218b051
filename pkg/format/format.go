// Package format defines the byte layout of a FlashKV store image.
//
// Image layout:
//
//	[0..4)   signature "FKVS"
//	[4..)    records: keyLen:u16 | key | valueLen:u16 | value
//	         sentinel: keyLen == 0
//	         zero padding up to the next page boundary
//
// Length fields are little-endian regardless of host byte order.
package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// SignatureSize is the length of the image signature
	SignatureSize = 4
	// LengthSize is the width of the key and value length fields
	LengthSize = 2
	// SentinelSize is the width of the end-of-records marker
	SentinelSize = LengthSize
	// MaxKeySize is the largest key a record can carry
	MaxKeySize = math.MaxUint16
	// MaxValueSize is the largest value a record can carry
	MaxValueSize = math.MaxUint16
)

// Signature marks a region holding a FlashKV store.
var Signature = [SignatureSize]byte{'F', 'K', 'V', 'S'}

var (
	ErrEmptyKey      = errors.New("key must not be empty")
	ErrKeyTooLarge   = errors.New("key too large")
	ErrValueTooLarge = errors.New("value too large")
)

// ByteOrder is the encoding of every length field.
var ByteOrder = binary.LittleEndian

// IsSignature reports whether b starts with the store signature.
func IsSignature(b []byte) bool {
	return len(b) >= SignatureSize && bytes.Equal(b[:SignatureSize], Signature[:])
}

// RecordSize returns the serialized footprint of one record.
func RecordSize(keyLen, valueLen int) int {
	return LengthSize + keyLen + LengthSize + valueLen
}

// CheckRecord validates that key and value fit a record.
func CheckRecord(key string, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrKeyTooLarge, len(key), MaxKeySize)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrValueTooLarge, len(value), MaxValueSize)
	}
	return nil
}

// AppendSignature appends the store signature to buf.
func AppendSignature(buf []byte) []byte {
	return append(buf, Signature[:]...)
}

// AppendRecord appends one encoded record to buf. The caller validates the
// record with CheckRecord first.
func AppendRecord(buf []byte, key string, value []byte) []byte {
	buf = ByteOrder.AppendUint16(buf, uint16(len(key)))
	buf = append(buf, key...)
	buf = ByteOrder.AppendUint16(buf, uint16(len(value)))
	buf = append(buf, value...)
	return buf
}

// AppendSentinel appends the end-of-records marker to buf.
func AppendSentinel(buf []byte) []byte {
	return ByteOrder.AppendUint16(buf, 0)
}

// DecodeLength decodes a length field.
func DecodeLength(b []byte) uint16 {
	return ByteOrder.Uint16(b)
}

// PadToPage zero-fills buf up to the next multiple of pageSize.
func PadToPage(buf []byte, pageSize int) []byte {
	if pageSize <= 0 {
		return buf
	}
	if rem := len(buf) % pageSize; rem != 0 {
		buf = append(buf, make([]byte, pageSize-rem)...)
	}
	return buf
}
