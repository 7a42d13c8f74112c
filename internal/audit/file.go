package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// FileConfig holds file shipper configuration
type FileConfig struct {
	// Path is the live JSON-lines file
	Path string `json:"path"`
	// MaxSizeMB triggers rotation once the live file would grow past it
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups is how many rotated files (Path.1 newest .. Path.N oldest) are kept.
	// Rotation needs both MaxSizeMB and MaxBackups; otherwise the file only grows.
	MaxBackups int `json:"max_backups"`
}

// FileShipper appends one JSON line per roster change to a local file, the office's
// offline copy of who joined or left each activity.
type FileShipper struct {
	cfg *FileConfig

	mu     sync.Mutex
	file   *os.File
	size   int64
	closed bool
}

// NewFileShipper opens (or creates) the live file for appending.
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	file, size, err := openAppend(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file, size: size}, nil
}

func openAppend(path string) (*os.File, int64, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, err
	}
	return file, info.Size(), nil
}

// Ship appends the entry. A failed rotation is logged and the entry still goes to the
// current file, so a rotation problem never costs roster history.
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrShipperClosed
	}

	if fs.needsRotation(len(line)) {
		if err := fs.rotate(); err != nil {
			slog.Warn("audit log rotation failed, appending to current file", "path", fs.cfg.Path, "error", err)
		}
	}

	n, err := fs.file.Write(line)
	fs.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (fs *FileShipper) needsRotation(next int) bool {
	if fs.cfg.MaxSizeMB <= 0 || fs.cfg.MaxBackups <= 0 || fs.size == 0 {
		return false
	}
	return fs.size+int64(next) > int64(fs.cfg.MaxSizeMB)*1024*1024
}

func (fs *FileShipper) backup(i int) string {
	return fmt.Sprintf("%s.%d", fs.cfg.Path, i)
}

// rotate drops the oldest backup, shifts Path.i to Path.i+1, moves the live file to
// Path.1 and opens a fresh one. The old handle stays in use until the new file is open.
func (fs *FileShipper) rotate() error {
	_ = os.Remove(fs.backup(fs.cfg.MaxBackups))
	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fs.backup(i), fs.backup(i+1))
	}
	if err := os.Rename(fs.cfg.Path, fs.backup(1)); err != nil {
		return fmt.Errorf("move live file aside: %w", err)
	}

	next, size, err := openAppend(fs.cfg.Path)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", fs.cfg.Path, err)
	}
	_ = fs.file.Close()
	fs.file, fs.size = next, size
	return nil
}

// Close closes the live file. Later Ship calls fail with ErrShipperClosed.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil
	}
	fs.closed = true
	return fs.file.Close()
}
