// Package report writes the append-only text record of a benchmark run.
// Each trial is flushed and synced as soon as it finishes so a crash keeps
// every completed block.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/lifecycle"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

// FilePrefix starts every report file name
const FilePrefix = "draid-bench-"

// maxNameAttempts bounds the suffixes tried when report names collide
const maxNameAttempts = 100

// Filename embeds the generation timestamp
func Filename(t time.Time) string {
	return FilePrefix + t.Format("20060102-150405") + ".txt"
}

// candidateName is the n-th file name tried for a report. The first is
// Filename; later ones add the short run ID and then a counter.
func candidateName(t time.Time, runID string, n int) string {
	if n == 0 {
		return Filename(t)
	}
	stem := strings.TrimSuffix(Filename(t), ".txt")
	short := utils.ShortRunID(runID)
	switch {
	case short == "":
		return fmt.Sprintf("%s-%d.txt", stem, n+1)
	case n == 1:
		return fmt.Sprintf("%s-%s.txt", stem, short)
	default:
		return fmt.Sprintf("%s-%s-%d.txt", stem, short, n)
	}
}

// openExclusive creates a report file that did not exist before, so two runs
// started in the same second never share one
func openExclusive(dir string, header Header) (*os.File, string, error) {
	for n := 0; n < maxNameAttempts; n++ {
		path := filepath.Join(dir, candidateName(header.Started, header.RunID, n))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("failed to open report %s: %w", path, err)
		}
		klog.V(4).Infof("Report %s already exists, trying another name", path)
	}
	return nil, "", fmt.Errorf("failed to open report in %s: %d names for %s already taken",
		dir, maxNameAttempts, Filename(header.Started))
}

// Header opens the report
type Header struct {
	RunID   string
	Target  string
	Pool    string
	Mode    string
	Devices int
	Layouts int
	Started time.Time
}

// Writer appends trial blocks to one report file
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Create opens a new report in dir and writes the header block
func Create(dir string, header Header) (*Writer, error) {
	if header.Started.IsZero() {
		header.Started = time.Now()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	f, path, err := openExclusive(dir, header)
	if err != nil {
		return nil, err
	}

	w := &Writer{f: f, path: path}
	if err := w.write(FormatHeader(header)); err != nil {
		_ = f.Close()
		return nil, err
	}
	klog.V(2).Infof("Writing report to %s", path)
	return w, nil
}

// Path returns the report file path
func (w *Writer) Path() string { return w.path }

// Append writes one trial block and syncs it to disk
func (w *Writer) Append(r lifecycle.TrialResult) error {
	return w.write(FormatTrial(r))
}

// Close closes the report file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *Writer) write(block string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("report %s is closed", w.path)
	}

	bw := bufio.NewWriter(w.f)
	if _, err := io.WriteString(bw, block+"\n"); err != nil {
		return fmt.Errorf("failed to write report %s: %w", w.path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush report %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync report %s: %w", w.path, err)
	}
	return nil
}

// FormatHeader renders the header block
func FormatHeader(h Header) string {
	var b strings.Builder
	field(&b, "draid-bench run", h.RunID)
	field(&b, "started", h.Started.Format(time.RFC3339))
	field(&b, "target", h.Target)
	field(&b, "pool", h.Pool)
	field(&b, "mode", h.Mode)
	field(&b, "devices", fmt.Sprint(h.Devices))
	field(&b, "layouts", fmt.Sprint(h.Layouts))
	return b.String()
}

// FormatTrial renders one trial block: layout, counts, timing, errors and the
// raw final status text
func FormatTrial(r lifecycle.TrialResult) string {
	var b strings.Builder
	p := r.Plan

	field(&b, "trial", fmt.Sprint(r.Index))
	field(&b, "layout", p.Descriptor())
	field(&b, "vdevs", fmt.Sprint(p.GroupCount))
	field(&b, "children", fmt.Sprint(p.GroupSize))
	field(&b, "data", fmt.Sprint(p.DataCount))
	field(&b, "spares", fmt.Sprint(p.SpareCount))
	field(&b, "parity", fmt.Sprint(p.Parity))
	field(&b, "redundancy groups", fmt.Sprint(p.RedundancyGroups))
	reserve := "none"
	if p.Reserve != "" {
		reserve = string(p.Reserve)
	}
	field(&b, "reserve", reserve)
	field(&b, "mode", r.Mode)
	field(&b, "outcome", string(r.Outcome))
	if !r.Started.IsZero() {
		field(&b, "started", r.Started.Format(time.RFC3339))
	}
	field(&b, "recovery", r.Recovery.Round(time.Millisecond).String())
	field(&b, "polls", fmt.Sprint(r.Polls))
	field(&b, "final state", r.FinalState.String())
	if d := r.ErrorDetail(); d != "" {
		field(&b, "error", d)
	}
	if d := r.CleanupDetail(); d != "" {
		field(&b, "cleanup error", d)
	}

	b.WriteString("status:\n")
	raw := strings.TrimRight(r.Final.Raw, "\n")
	if raw == "" {
		raw = "(no status captured)"
	}
	b.WriteString(raw)
	b.WriteString("\n")
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%-18s %s\n", name+":", value)
}
