package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

var ErrUnsafeClean = errors.New("refusing to clean path")

// Clean recursively removes the output root. A missing root is not an error.
// projectRoot guards against configurations pointing the output at the project.
func Clean(projectRoot, outputRoot string) error {
	if outputRoot == "" {
		return fmt.Errorf("%w: empty path", ErrUnsafeClean)
	}

	target, err := filepath.Abs(outputRoot)
	if err != nil {
		return err
	}
	if target == filepath.Dir(target) {
		return fmt.Errorf("%w: %s", ErrUnsafeClean, target)
	}
	if projectRoot != "" {
		root, err := filepath.Abs(projectRoot)
		if err != nil {
			return err
		}
		if rel, err := filepath.Rel(target, root); err == nil && rel != ".." && !startsWithParent(rel) {
			return fmt.Errorf("%w: %s contains the project root", ErrUnsafeClean, target)
		}
	}

	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to clean %s: %w", target, err)
	}

	log.Info().Str("path", target).Msg("Cleaned output")
	return nil
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
