package utils

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
)

// ArchiveDir packs dir into tarGzFile. Entries are stored under the
// directory's base name so unpacking recreates the directory itself.
func ArchiveDir(ctx context.Context, dir, tarGzFile string) error {
	dir = filepath.Clean(dir)
	cmd := exec.CommandContext(ctx, "tar", "-czf", tarGzFile, "-C", filepath.Dir(dir), filepath.Base(dir))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create tar.gz file: %w: %s", err, out)
	}
	return nil
}

func UnpackTarGz(tarGzFile string, dstFolder string) error {
	cmd := exec.Command("tar", "-xzf", tarGzFile, "-C", dstFolder)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to unpack tar.gz file: %w: %s", err, out)
	}
	return nil
}

func IsTarGz(file string) bool {
	fileHandle, err := os.Open(file)
	if err != nil {
		return false
	}
	defer fileHandle.Close()

	buffer := make([]byte, 512) // Read the first 512 bytes for MIME detection
	n, err := fileHandle.Read(buffer)
	if err != nil {
		return false
	}

	mimeType := http.DetectContentType(buffer[:n])
	return mimeType == "application/x-gzip" || mimeType == "application/gzip"
}
