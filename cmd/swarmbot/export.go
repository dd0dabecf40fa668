package main

import (
	"archive/tar"
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/store"
	"github.com/spf13/cobra"
)

// exportMessageLimit caps the archived message history copied into an export.
const exportMessageLimit = 1_000_000

type exportEntry struct {
	name  string
	data  []byte
	lines int
}

func newExportCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit store as a zstd-compressed tar of JSONL files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := store.New(cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			entries, err := collectExport(db)
			if err != nil {
				return err
			}
			if err := writeExport(outputPath, entries); err != nil {
				return err
			}

			size := int64(0)
			if info, err := os.Stat(outputPath); err == nil {
				size = info.Size()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Export complete: %d files, %s\n", len(entries), formatSize(size))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "file", "f", "", "output archive (.tar.zst)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the contents of an export archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := readExport(inputPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%-20s %8d records %10s\n", e.name, e.lines, formatSize(int64(len(e.data))))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputPath, "file", "f", "", "archive to inspect (.tar.zst)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// jsonlBuffer accumulates one JSON document per line.
type jsonlBuffer struct {
	buf   bytes.Buffer
	enc   *json.Encoder
	lines int
}

func newJSONL() *jsonlBuffer {
	b := &jsonlBuffer{}
	b.enc = json.NewEncoder(&b.buf)
	return b
}

func (b *jsonlBuffer) add(v any) error {
	if err := b.enc.Encode(v); err != nil {
		return err
	}
	b.lines++
	return nil
}

func (b *jsonlBuffer) entry(name string) exportEntry {
	return exportEntry{name: name, data: b.buf.Bytes(), lines: b.lines}
}

func collectExport(db *store.Store) ([]exportEntry, error) {
	runs := newJSONL()
	if err := db.EachTaskRun(func(r store.TaskRun) error { return runs.add(r) }); err != nil {
		return nil, fmt.Errorf("export task runs: %w", err)
	}

	agents := newJSONL()
	list, err := db.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("export agents: %w", err)
	}
	for _, a := range list {
		if err := agents.add(a); err != nil {
			return nil, err
		}
	}

	messages := newJSONL()
	msgs, err := db.GetMessages("", exportMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("export messages: %w", err)
	}
	for _, m := range msgs {
		if err := messages.add(m); err != nil {
			return nil, err
		}
	}

	schedules := newJSONL()
	sched, err := db.ListScheduledTasks()
	if err != nil {
		return nil, fmt.Errorf("export schedules: %w", err)
	}
	for _, st := range sched {
		if err := schedules.add(st); err != nil {
			return nil, err
		}
	}

	return []exportEntry{
		runs.entry("task_runs.jsonl"),
		agents.entry("agents.jsonl"),
		messages.entry("messages.jsonl"),
		schedules.entry("schedules.jsonl"),
	}, nil
}

func writeExport(path string, entries []exportEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	now := time.Now()
	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.name,
			Mode:    0o644,
			Size:    int64(len(e.data)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return fmt.Errorf("write tar data: %w", err)
		}
	}

	// Close explicitly to surface write errors.
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

func readExport(path string) ([]exportEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var entries []exportEntry
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		entries = append(entries, exportEntry{name: hdr.Name, data: data, lines: countLines(data)})
	}
	return entries, nil
}

func countLines(data []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	return n
}

func formatSize(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/float64(gb))
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(mb))
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
