package kl

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/stijnh/kernel-launcher/internal/logger"
)

const (
	cacheMagic   = "kernel_launcher"
	cacheVersion = "0.1"
)

type cacheParam struct {
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Values []Value `json:"values"`
}

type cacheHeader struct {
	Magic        string       `json:"magic"`
	Version      string       `json:"version"`
	KernelName   string       `json:"kernel_name"`
	KernelSource string       `json:"kernel_source"`
	Device       string       `json:"device"`
	CudaDriver   int          `json:"cuda_driver"`
	Hostname     string       `json:"hostname"`
	Date         string       `json:"date"`
	Parameters   []cacheParam `json:"parameters"`
}

type cacheRecord struct {
	Key         string          `json:"key"`
	Config      json.RawMessage `json:"config"`
	Date        string          `json:"date"`
	Performance float64         `json:"performance"`
}

// TuningCache is an append-only, newline-delimited JSON record of measured
// configurations, tied to a kernel builder and device by a header line.
// Writes are best-effort (logged, never propagated); opening an existing
// file with a disagreeing header fails with ErrCacheMismatch.
type TuningCache struct {
	filename string
	params   []*TunableParam // alphabetical by name; defines the record key order
	cache    map[string]float64
	log      logger.Logger
}

func NewTuningCache() *TuningCache {
	return &TuningCache{
		cache: make(map[string]float64),
		log:   logger.Default(),
	}
}

func (c *TuningCache) SetLogger(log logger.Logger) {
	c.log = log
}

// key renders the config's values joined by "|" in the canonical parameter
// order.
func (c *TuningCache) key(config Config) string {
	var sb strings.Builder
	for i, p := range c.params {
		if i > 0 {
			sb.WriteString("|")
		}
		v, _ := config.Get(p)
		sb.WriteString(v.String())
	}
	return sb.String()
}

func (c *TuningCache) header(builder *KernelBuilder, dev DeviceInfo) cacheHeader {
	params := make([]cacheParam, 0, len(c.params))
	for _, p := range c.params {
		params = append(params, cacheParam{
			Name:   p.Name(),
			Type:   p.Type().Name(),
			Values: p.Values(),
		})
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return cacheHeader{
		Magic:        cacheMagic,
		Version:      cacheVersion,
		KernelName:   builder.KernelName(),
		KernelSource: builder.KernelSource().FileName(),
		Device:       dev.Name,
		CudaDriver:   dev.DriverVersion,
		Hostname:     hostname,
		Date:         time.Now().Format(time.RFC3339),
		Parameters:   params,
	}
}

func (c *TuningCache) checkHeader(filename string, builder *KernelBuilder, dev DeviceInfo, h cacheHeader) error {
	if h.Magic != cacheMagic {
		return fmt.Errorf("%w: %s: invalid file format or corrupted file", ErrCacheMismatch, filename)
	}
	if h.Version != cacheVersion {
		return fmt.Errorf("%w: %s: file version %q does not match %q", ErrCacheMismatch, filename, h.Version, cacheVersion)
	}
	if h.KernelName != builder.KernelName() {
		return fmt.Errorf(
			"%w: %s: results were tuned for kernel %q, but the current kernel is %q",
			ErrCacheMismatch, filename, h.KernelName, builder.KernelName())
	}
	if h.Device != dev.Name {
		return fmt.Errorf(
			"%w: %s: results were tuned for device %q, but the current device is %q",
			ErrCacheMismatch, filename, h.Device, dev.Name)
	}

	match := len(h.Parameters) == len(c.params)
	if match {
		for i, p := range h.Parameters {
			if p.Name != c.params[i].Name() {
				match = false
				break
			}
		}
	}
	if !match {
		return fmt.Errorf("%w: %s: results were tuned for different parameters", ErrCacheMismatch, filename)
	}
	return nil
}

// Open binds the cache to a file. A missing file is created with a fresh
// header. An existing file is validated against the builder and device, its
// records are loaded, and the best-performing configuration is returned.
func (c *TuningCache) Open(filename string, builder *KernelBuilder, dev DeviceInfo) (Config, bool, error) {
	c.filename = filename
	c.cache = make(map[string]float64)

	c.params = append([]*TunableParam(nil), builder.Params()...)
	sort.Slice(c.params, func(i, j int) bool { return c.params[i].Name() < c.params[j].Name() })

	f, err := os.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, false, c.create(builder, dev)
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("kl: open tuning cache: %w", err)
	}
	defer f.Close()

	var (
		seenHeader bool
		bestRecord *cacheRecord
		bestPerf   = math.Inf(-1)
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !seenHeader {
			var header cacheHeader
			if err := json.Unmarshal([]byte(line), &header); err != nil {
				return Config{}, false, fmt.Errorf("%w: %s: unreadable header: %v", ErrCacheMismatch, filename, err)
			}
			if err := c.checkHeader(filename, builder, dev, header); err != nil {
				return Config{}, false, err
			}
			seenHeader = true
			continue
		}

		var record cacheRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			// A truncated trailing line from an interrupted writer; drop it.
			c.log.Warn("skipping unreadable tuning-cache record", "file", filename, "error", err)
			continue
		}

		c.cache[record.Key] = record.Performance
		if record.Performance > bestPerf {
			bestPerf = record.Performance
			rec := record
			bestRecord = &rec
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, false, fmt.Errorf("kl: read tuning cache: %w", err)
	}
	if !seenHeader {
		return Config{}, false, fmt.Errorf("%w: %s: file has no header line", ErrCacheMismatch, filename)
	}

	if bestRecord == nil {
		return Config{}, false, nil
	}
	best, err := builder.LoadConfig(bestRecord.Config)
	if err != nil {
		return Config{}, false, err
	}
	return best, true, nil
}

func (c *TuningCache) create(builder *KernelBuilder, dev DeviceInfo) error {
	data, err := json.Marshal(c.header(builder, dev))
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.filename, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("kl: create tuning cache: %w", err)
	}
	return nil
}

// Append records a measurement in memory and on disk. Disk failures are
// logged and swallowed; losing a cache line never fails a tuning run.
func (c *TuningCache) Append(config Config, performance float64) {
	key := c.key(config)
	c.cache[key] = performance

	configJSON, err := json.Marshal(config)
	if err != nil {
		c.log.Warn("cannot serialize config for tuning cache", "error", err)
		return
	}
	record := cacheRecord{
		Key:         key,
		Config:      configJSON,
		Date:        time.Now().Format(time.RFC3339),
		Performance: performance,
	}
	data, err := json.Marshal(record)
	if err != nil {
		c.log.Warn("cannot serialize tuning-cache record", "error", err)
		return
	}

	f, err := os.OpenFile(c.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		c.log.Warn("cannot open tuning cache for append", "file", c.filename, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		c.log.Warn("cannot append to tuning cache", "file", c.filename, "error", err)
	}
}

// Find looks up the recorded performance for a configuration.
func (c *TuningCache) Find(config Config) (float64, bool) {
	perf, ok := c.cache[c.key(config)]
	return perf, ok
}
