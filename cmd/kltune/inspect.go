package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

type cacheHeader struct {
	Magic        string `json:"magic"`
	Version      string `json:"version"`
	KernelName   string `json:"kernel_name"`
	KernelSource string `json:"kernel_source"`
	Device       string `json:"device"`
	CudaDriver   int    `json:"cuda_driver"`
	Hostname     string `json:"hostname"`
	Date         string `json:"date"`
	Parameters   []struct {
		Name   string `json:"name"`
		Type   string `json:"type"`
		Values []any  `json:"values"`
	} `json:"parameters"`
}

type cacheRecord struct {
	Key         string          `json:"key"`
	Config      json.RawMessage `json:"config"`
	Date        string          `json:"date"`
	Performance float64         `json:"performance"`
}

// readCache parses a tuning cache file into its header and records, skipping
// blank and truncated lines the same way the engine does.
func readCache(path string) (*cacheHeader, []cacheRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var (
		header  *cacheHeader
		records []cacheRecord
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if header == nil {
			var h cacheHeader
			if err := json.Unmarshal([]byte(line), &h); err != nil {
				return nil, nil, fmt.Errorf("unreadable header: %w", err)
			}
			header = &h
			continue
		}
		var rec cacheRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if header == nil {
		return nil, nil, fmt.Errorf("%s: file has no header line", path)
	}
	return header, records, nil
}

func inspectCmd() *cli.Command {
	var (
		path    string
		asJSON  bool
		showAll bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the header and summary of a tuning cache file",
		ArgsUsage: "<cache-file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print machine-readable JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "all", Usage: "list every record", Destination: &showAll},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one cache file argument")
			}
			path = cmd.Args().First()

			header, records, err := readCache(path)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(map[string]any{
					"header":  header,
					"records": records,
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("kernel:      %s\n", header.KernelName)
			fmt.Printf("source:      %s\n", header.KernelSource)
			fmt.Printf("device:      %s (driver %d)\n", header.Device, header.CudaDriver)
			fmt.Printf("host:        %s\n", header.Hostname)
			fmt.Printf("created:     %s\n", header.Date)
			fmt.Printf("format:      %s %s\n", header.Magic, header.Version)

			fmt.Printf("parameters:  %d\n", len(header.Parameters))
			for _, p := range header.Parameters {
				fmt.Printf("  %-24s %s (%d values)\n", p.Name, p.Type, len(p.Values))
			}

			fmt.Printf("records:     %d\n", len(records))
			if len(records) > 0 {
				best := records[0]
				for _, r := range records[1:] {
					if r.Performance > best.Performance {
						best = r
					}
				}
				fmt.Printf("best:        %.6g  %s\n", best.Performance, string(best.Config))
			}

			if showAll {
				for _, r := range records {
					fmt.Printf("  %.6g\t%s\n", r.Performance, r.Key)
				}
			}
			return nil
		},
	}
}
