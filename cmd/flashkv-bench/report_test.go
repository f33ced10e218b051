package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResultCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.csv")

	results := []BenchmarkResult{
		{BenchmarkType: "Put", NumKeys: 500, ValueSize: 32, Mode: "Random", Operations: 1000,
			Duration: 1.5, Throughput: 666.67, Latency: 1.5, Timestamp: time.Unix(1700000000, 0)},
		{BenchmarkType: "Save", NumKeys: 500, ValueSize: 32, Mode: "Random", Operations: 10,
			Duration: 2, Throughput: 5, Latency: 200000, BytesPerOp: 24004, Timestamp: time.Unix(1700000000, 0)},
	}
	if err := SaveResultCSV(results, path); err != nil {
		t.Fatalf("SaveResultCSV failed: %v", err)
	}

	loaded, err := LoadResultCSV(path)
	if err != nil {
		t.Fatalf("LoadResultCSV failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(loaded))
	}
	if loaded[1].BenchmarkType != "Save" || loaded[1].BytesPerOp != 24004 || loaded[1].Operations != 10 {
		t.Errorf("Unexpected result %+v", loaded[1])
	}
	if !loaded[0].Timestamp.Equal(results[0].Timestamp) {
		t.Errorf("Timestamp mismatch: %v", loaded[0].Timestamp)
	}
}

func TestPrintResultTable(t *testing.T) {
	var buf bytes.Buffer
	PrintResultTable(&buf, nil)
	if !strings.Contains(buf.String(), "No results") {
		t.Errorf("Expected empty message, got %q", buf.String())
	}

	buf.Reset()
	PrintResultTable(&buf, []BenchmarkResult{
		{BenchmarkType: "Get", NumKeys: 10, ValueSize: 8, HitRate: 50},
		{BenchmarkType: "Load", NumKeys: 10, ValueSize: 8, Latency: 2500, BytesPerOp: 184},
	})
	out := buf.String()
	if !strings.Contains(out, "50.00%") {
		t.Errorf("Expected hit rate in table, got %q", out)
	}
	if !strings.Contains(out, "2.50ms") || !strings.Contains(out, "184B") {
		t.Errorf("Expected load latency and size in table, got %q", out)
	}
}

func TestKeysThatFit(t *testing.T) {
	// key-00000000 is 12 bytes, record is 2+12+2+32 = 48
	if got := keysThatFit(4+48*3, 32); got != 3 {
		t.Errorf("Expected 3 keys, got %d", got)
	}
	if got := keysThatFit(10, 32); got != 0 {
		t.Errorf("Expected 0 keys, got %d", got)
	}
}
