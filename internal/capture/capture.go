// Package capture stores raw appliance replies as zstd files and replays
// them in place of a live session.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/jandubois/omnicube-probe/internal/logger"
)

// Reply kinds, derived from the command that produced them.
const (
	KindBackups   = "backups"
	KindInventory = "inventory"
)

// KindOf maps a command line to its reply kind.
func KindOf(command string) string {
	switch {
	case strings.HasPrefix(command, "svt-backup-show"):
		return KindBackups
	case strings.HasPrefix(command, "svt-vm-show"):
		return KindInventory
	default:
		name, _, _ := strings.Cut(command, " ")
		return name
	}
}

// Write stores raw as dir/<kind>.xml.zst, replacing any previous capture.
func Write(dir, kind, raw string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create capture directory %q: %w", dir, err)
	}
	path := filepath.Join(dir, kind+".xml.zst")

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create capture file: %w", err)
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return "", fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.WriteString(enc, raw); err != nil {
		enc.Close()
		return "", fmt.Errorf("compress capture: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("flush capture: %w", err)
	}
	return path, out.Close()
}

// Load reads a capture. Files ending in .zst are decompressed.
func Load(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("create zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read capture %s: %w", path, err)
	}
	return string(data), nil
}

// Runner is the subset of a session used here.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Recorder passes commands to Runner and stores every successful reply in Dir.
// A failed write is logged and does not fail the command.
type Recorder struct {
	Runner Runner
	Dir    string
	Log    logger.Logger
}

func (r *Recorder) Run(ctx context.Context, command string) (string, error) {
	out, err := r.Runner.Run(ctx, command)
	if err != nil {
		return out, err
	}
	path, werr := Write(r.Dir, KindOf(command), out)
	if r.Log != nil {
		if werr != nil {
			r.Log.Warn("capture write failed", "dir", r.Dir, "error", werr)
		} else {
			r.Log.Debug("reply captured", "path", path)
		}
	}
	return out, nil
}

// Replay answers commands from capture files keyed by reply kind.
type Replay map[string]string

func (p Replay) Run(_ context.Context, command string) (string, error) {
	kind := KindOf(command)
	path, ok := p[kind]
	if !ok || path == "" {
		return "", fmt.Errorf("no %s capture to replay", kind)
	}
	return Load(path)
}
