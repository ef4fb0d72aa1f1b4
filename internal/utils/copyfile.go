package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// CopyFile copies src to dst with the source's permission bits, so copied
// runner scripts stay executable. The data goes through a temporary file in
// dst's directory and is renamed into place.
func CopyFile(src, dst string) (err error) {
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, source)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if n != info.Size() {
		return fmt.Errorf("incomplete copy of %s: expected %d bytes, got %d", src, info.Size(), n)
	}
	if err = os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to set mode of %s: %w", dst, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	return nil
}

// CopyInto copies every regular file in srcs into dir under its base name.
// Directories are skipped; all copy errors are returned together.
func CopyInto(dir string, srcs ...string) error {
	var errs []error
	for _, src := range srcs {
		if st, err := os.Stat(src); err == nil && st.IsDir() {
			continue
		}
		if err := CopyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CopyDir copies the contents of src into dst, creating dst when needed.
// Modes and timestamps are kept; AFL-style fuzzers read seed mtimes.
func CopyDir(src, dst string) error {
	if st, err := os.Stat(src); err != nil || !st.IsDir() {
		return fmt.Errorf("source directory %s does not exist", src)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	out, err := exec.Command("cp", "-a", src+"/.", dst).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to copy directory %s: %w: %s", src, err, out)
	}
	return nil
}
