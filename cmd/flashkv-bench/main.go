package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/KevoDB/flashkv/pkg/engine"
	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/KevoDB/flashkv/pkg/format"
)

const (
	defaultValueSize = 32
	defaultKeyCount  = 500
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (put, get, save, load, mixed, or all)")
	duration      = flag.Duration("duration", 5*time.Second, "Duration to run each benchmark")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys to use")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	imagePath     = flag.String("image", "", "Image file to benchmark against (default: in-memory device)")
	regionSize    = flag.Uint("region-size", 64*1024, "Size of the store region in bytes")
	pageSize      = flag.Uint("page-size", 256, "Flash page size in bytes")
	sectorSize    = flag.Uint("sector-size", 4096, "Flash sector size in bytes")
	syncWrites    = flag.Bool("sync", false, "Fsync the image file after every write and erase")
	sequential    = flag.Bool("sequential", false, "Use sequential keys instead of random")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	region := flash.Region{
		Base:       0,
		Size:       uint32(*regionSize),
		PageSize:   uint32(*pageSize),
		SectorSize: uint32(*sectorSize),
	}

	dev, closeDev, err := openDevice(region)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open device: %v\n", err)
		os.Exit(1)
	}
	defer closeDev()

	e, err := engine.NewEngine(dev, region, engine.WithLogger(log.Discard()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create engine: %v\n", err)
		os.Exit(1)
	}
	if _, err := e.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load store: %v\n", err)
		os.Exit(1)
	}

	if fit := keysThatFit(e.Capacity(), *valueSize); *numKeys > fit {
		fmt.Printf("Region holds at most %d keys of %d bytes, using %d keys\n", fit, *valueSize, fit)
		*numKeys = fit
	}
	if *numKeys == 0 {
		fmt.Fprintln(os.Stderr, "Values are too large for the region")
		os.Exit(1)
	}

	b := &bench{e: e, dev: dev, region: region}

	var results []BenchmarkResult
	types := strings.Split(*benchmarkType, ",")
	for _, typ := range types {
		switch strings.ToLower(typ) {
		case "put":
			results = append(results, b.runPut())
		case "get":
			results = append(results, b.runGet())
		case "save":
			results = append(results, b.runSave())
		case "load":
			results = append(results, b.runLoad())
		case "mixed":
			results = append(results, b.runMixed())
		case "all":
			results = append(results, b.runPut(), b.runGet(), b.runSave(), b.runLoad(), b.runMixed())
		default:
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
			os.Exit(1)
		}
	}

	PrintResultTable(os.Stdout, results)

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
		} else {
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
			}
		}
	}
}

func openDevice(region flash.Region) (flash.Device, func() error, error) {
	if *imagePath == "" {
		return flash.NewMemDeviceForRegion(region), func() error { return nil }, nil
	}
	fd, err := flash.OpenFile(*imagePath, region.Size, region.PageSize, region.SectorSize,
		flash.WithSyncWrites(*syncWrites))
	if err != nil {
		return nil, nil, err
	}
	return fd, fd.Close, nil
}

// keysThatFit returns how many generated keys with values of valueSize fit
// in capacity bytes.
func keysThatFit(capacity, valueSize int) int {
	record := format.RecordSize(len(generateKey(0)), valueSize)
	if record <= 0 {
		return 0
	}
	return (capacity - format.SignatureSize) / record
}

// keyMode returns a string describing the key generation mode
func keyMode() string {
	if *sequential {
		return "Sequential"
	}
	return "Random"
}

// generateKey returns a fixed width key so every record has the same size
func generateKey(i int) string {
	return fmt.Sprintf("key-%08d", i)
}

func pickKey(i int) string {
	if *sequential {
		return generateKey(i % *numKeys)
	}
	return generateKey(rand.Intn(*numKeys))
}

type bench struct {
	e      *engine.Engine
	dev    flash.Device
	region flash.Region
}

func (b *bench) value() []byte {
	value := make([]byte, *valueSize)
	for i := range value {
		value[i] = byte(i % 256)
	}
	return value
}

// fill puts every key so that reads and saves work on a full key set.
func (b *bench) fill() error {
	value := b.value()
	for i := 0; i < *numKeys; i++ {
		if err := b.e.Put(generateKey(i), value); err != nil {
			return err
		}
	}
	return nil
}

// run calls op until the duration elapses or op fails.
func (b *bench) run(name string, op func(i int) error) BenchmarkResult {
	fmt.Printf("Running %s Benchmark...\n", name)

	start := time.Now()
	deadline := start.Add(*duration)

	var ops, errs int
	for time.Now().Before(deadline) {
		if err := op(ops); err != nil {
			errs++
			if errs >= 10 {
				fmt.Fprintf(os.Stderr, "Too many errors, stopping benchmark: %v\n", err)
				break
			}
			continue
		}
		ops++
	}

	return newResult(name, ops, time.Since(start))
}

func (b *bench) runPut() BenchmarkResult {
	value := b.value()
	return b.run("Put", func(i int) error {
		return b.e.Put(pickKey(i), value)
	})
}

func (b *bench) runGet() BenchmarkResult {
	if err := b.fill(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fill store: %v\n", err)
	}

	var hits, misses int
	result := b.run("Get", func(i int) error {
		if _, err := b.e.Get(pickKey(i)); err != nil {
			if errors.Is(err, engine.ErrKeyNotFound) {
				misses++
				return nil
			}
			return err
		}
		hits++
		return nil
	})
	if hits+misses > 0 {
		result.HitRate = float64(hits) / float64(hits+misses) * 100
	}
	return result
}

func (b *bench) runSave() BenchmarkResult {
	if err := b.fill(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fill store: %v\n", err)
	}
	result := b.run("Save", func(int) error {
		return b.e.Save()
	})
	result.BytesPerOp = b.e.Size()
	return result
}

func (b *bench) runLoad() BenchmarkResult {
	if err := b.fill(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fill store: %v\n", err)
	}
	if err := b.e.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save store: %v\n", err)
	}
	result := b.run("Load", func(int) error {
		_, err := b.e.Load()
		return err
	})
	result.BytesPerOp = b.e.Size()
	return result
}

// runMixed puts a batch of keys and saves, the pattern of a device that
// persists after each group of updates.
func (b *bench) runMixed() BenchmarkResult {
	const batch = 10
	value := b.value()
	return b.run("Mixed", func(i int) error {
		for j := 0; j < batch; j++ {
			if err := b.e.Put(pickKey(i*batch+j), value); err != nil {
				return err
			}
		}
		return b.e.Save()
	})
}

func newResult(name string, ops int, elapsed time.Duration) BenchmarkResult {
	r := BenchmarkResult{
		BenchmarkType: name,
		NumKeys:       *numKeys,
		ValueSize:     *valueSize,
		Mode:          keyMode(),
		Operations:    ops,
		Duration:      elapsed.Seconds(),
		Timestamp:     time.Now(),
	}
	if ops > 0 {
		r.Throughput = float64(ops) / elapsed.Seconds()
		r.Latency = float64(elapsed.Microseconds()) / float64(ops)
	}
	return r
}
