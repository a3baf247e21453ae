// Command tapasco-bench opens a device, runs a small battery of timing
// measurements against it, and dumps the results as JSON -- the host-side
// analogue of the original C++ tapasco-benchmark tool.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	tapasco "github.com/esa-tud/tapasco-runtime"
	"github.com/esa-tud/tapasco-runtime/internal/logging"
)

const counterKernelID = 1

func main() {
	var (
		mode    = flag.String("mode", "a", "a(ll), m(emory transfer), i(nterrupt latency), j(ob throughput)")
		fast    = flag.Bool("fast", false, "use smaller sweep ranges for a quick run")
		device  = flag.Uint("device", 0, "device id to open")
		outPath = flag.String("out", "", "output file (default: tapasco.benchmark)")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	measureTransfer, measureLatency, measureThroughput, err := parseMode(*mode)
	if err != nil {
		log.Fatalf("invalid mode: %v", err)
	}

	if err := tapasco.Init(tapasco.Version{Major: tapasco.APIVersionMajor, Minor: tapasco.APIVersionMinor}); err != nil {
		log.Fatalf("init: %v", err)
	}
	defer tapasco.Deinit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dev, err := tapasco.CreateDevice(ctx, uint32(*device), tapasco.Exclusive)
	if err != nil {
		log.Fatalf("create device: %v", err)
	}
	defer dev.DestroyDevice()

	result := benchmarkResult{
		Timestamp:      time.Now().Format(time.RFC3339),
		Host:           hostInfo(),
		APIVersion:     fmt.Sprintf("%d.%d", tapasco.APIVersionMajor, tapasco.APIVersionMinor),
		NumSlots:       dev.Info().NumSlots,
		CounterPEInsts: dev.KernelInstanceCount(counterKernelID),
	}

	maxExp := 29
	if *fast {
		maxExp = 18
	}

	if measureTransfer {
		logger.Info("measuring transfer speed")
		result.TransferSpeed = measureTransferSpeed(dev, maxExp)
	}
	if measureLatency {
		logger.Info("measuring interrupt latency")
		result.InterruptLatency = measureInterruptLatency(ctx, dev, maxExp)
	}
	if measureThroughput {
		logger.Info("measuring job throughput")
		result.JobThroughput = measureJobThroughput(ctx, dev)
	}

	path := *outPath
	if path == "" {
		path = "tapasco.benchmark"
	}
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Printf("wrote %s\n", path)
}

func parseMode(m string) (transfer, latency, throughput bool, err error) {
	if m == "" {
		m = "a"
	}
	switch m[0] {
	case 'a':
		return true, true, true, nil
	case 'm':
		return true, false, false, nil
	case 'i':
		return false, true, false, nil
	case 'j':
		return false, false, true, nil
	default:
		return false, false, false, fmt.Errorf("unknown mode %q, choose one of a, m, i, j", m)
	}
}

type benchmarkResult struct {
	Timestamp        string               `json:"timestamp"`
	Host             hostRecord           `json:"host"`
	APIVersion       string               `json:"api_version"`
	NumSlots         int                  `json:"num_slots"`
	CounterPEInsts   int                  `json:"counter_pe_instances"`
	TransferSpeed    []transferSpeedPoint `json:"transfer_speed,omitempty"`
	InterruptLatency []latencyPoint       `json:"interrupt_latency,omitempty"`
	JobThroughput    []throughputPoint    `json:"job_throughput,omitempty"`
}

type hostRecord struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

func hostInfo() hostRecord {
	return hostRecord{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

type transferSpeedPoint struct {
	ChunkBytes   int     `json:"chunk_bytes"`
	ReadMBs      float64 `json:"read_mb_s"`
	WriteMBs     float64 `json:"write_mb_s"`
	ReadWriteMBs float64 `json:"read_write_mb_s"`
}

func measureTransferSpeed(dev *tapasco.DeviceContext, maxExp int) []transferSpeedPoint {
	var points []transferSpeedPoint
	for exp := 10; exp < maxExp; exp++ {
		chunk := 1 << exp
		addr, err := dev.Alloc(uint64(chunk))
		if err != nil {
			break
		}
		buf := make([]byte, chunk)

		readMBs := timedTransfer(chunk, func() error { return dev.CopyFrom(addr, buf) })
		writeMBs := timedTransfer(chunk, func() error { return dev.CopyTo(buf, addr) })
		rwMBs := timedTransfer(chunk, func() error {
			if err := dev.CopyTo(buf, addr); err != nil {
				return err
			}
			return dev.CopyFrom(addr, buf)
		})
		dev.Free(addr)

		if readMBs <= 0 && writeMBs <= 0 && rwMBs <= 0 {
			break
		}
		points = append(points, transferSpeedPoint{
			ChunkBytes: chunk, ReadMBs: readMBs, WriteMBs: writeMBs, ReadWriteMBs: rwMBs,
		})
	}
	return points
}

func timedTransfer(bytes int, op func() error) float64 {
	start := time.Now()
	if err := op(); err != nil {
		return -1
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return -1
	}
	return float64(bytes) / (1 << 20) / elapsed
}

type latencyPoint struct {
	CycleCount    uint64  `json:"cycle_count"`
	AvgLatencyUs  float64 `json:"avg_latency_us"`
	MinLatencyUs  float64 `json:"min_latency_us"`
	MaxLatencyUs  float64 `json:"max_latency_us"`
}

// measureInterruptLatency launches the counter PE repeatedly with an
// increasing cycle count and reports round-trip launch latency.
func measureInterruptLatency(ctx context.Context, dev *tapasco.DeviceContext, maxExp int) []latencyPoint {
	const samples = 10
	var points []latencyPoint
	for exp := 0; exp < maxExp; exp++ {
		cycles := uint64(1) << exp
		var total, min, max time.Duration
		ok := 0
		for i := 0; i < samples; i++ {
			start := time.Now()
			err := dev.Launch(ctx, counterKernelID, tapasco.Scalar(cycles))
			elapsed := time.Since(start)
			if err != nil {
				continue
			}
			ok++
			total += elapsed
			if min == 0 || elapsed < min {
				min = elapsed
			}
			if elapsed > max {
				max = elapsed
			}
		}
		if ok == 0 {
			break
		}
		points = append(points, latencyPoint{
			CycleCount:   cycles,
			AvgLatencyUs: float64(total.Microseconds()) / float64(ok),
			MinLatencyUs: float64(min.Microseconds()),
			MaxLatencyUs: float64(max.Microseconds()),
		})
	}
	return points
}

type throughputPoint struct {
	NumThreads int     `json:"num_threads"`
	JobsPerSec float64 `json:"jobs_per_sec"`
}

// measureJobThroughput ramps up concurrent launchers until adding another
// stops improving throughput, mirroring the original's ramp-until-plateau
// loop.
func measureJobThroughput(ctx context.Context, dev *tapasco.DeviceContext) []throughputPoint {
	const window = 200 * time.Millisecond
	const maxThreads = 128
	minThreads := runtime.NumCPU() * 2

	var points []throughputPoint
	prev := -1.0
	for n := 1; n <= maxThreads; n++ {
		jobs := throughputOnce(ctx, dev, n, window)
		points = append(points, throughputPoint{NumThreads: n, JobsPerSec: jobs})
		if n > minThreads && jobs <= prev {
			break
		}
		prev = jobs
	}
	return points
}

func throughputOnce(ctx context.Context, dev *tapasco.DeviceContext, numThreads int, window time.Duration) float64 {
	deadline := time.Now().Add(window)
	counts := make([]int64, numThreads)
	done := make(chan struct{})
	for i := 0; i < numThreads; i++ {
		go func(i int) {
			for time.Now().Before(deadline) {
				if err := dev.Launch(ctx, counterKernelID, tapasco.Scalar(uint64(1))); err == nil {
					counts[i]++
				}
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < numThreads; i++ {
		<-done
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	return float64(total) / window.Seconds()
}
