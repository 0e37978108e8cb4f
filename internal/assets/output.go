package assets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFile writes data to path through a temporary file in the same directory,
// so readers never observe a partial file and a failure leaves the previous
// output in place.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// copyFile streams src to dst with the same atomic replace as WriteFile.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dst)
}

// outputPath maps a match onto dest, swapping the extension when ext is set.
func outputPath(dest string, m Match, ext string) string {
	rel := filepath.FromSlash(m.Rel)
	if ext != "" {
		rel = rel[:len(rel)-len(filepath.Ext(rel))] + ext
	}
	return filepath.Join(dest, rel)
}

// staleOutputs returns the output mapped from source by the first pattern
// matching it.
func staleOutputs(patterns []*Pattern, dest, source, ext string) []string {
	for _, p := range patterns {
		if m, ok := p.MatchFile(source); ok {
			return []string{outputPath(dest, m, ext)}
		}
	}
	return nil
}

type outputFile struct {
	path string
	data []byte
}

func writeOutputs(task string, outputs []outputFile) (*Result, error) {
	res := &Result{Task: task}
	for _, o := range outputs {
		if err := WriteFile(o.path, o.data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", o.path, err)
		}
		res.Outputs = append(res.Outputs, o.path)
	}
	return res, nil
}
