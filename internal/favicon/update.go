package favicon

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// CheckForUpdate asks svc for changes published since the manifest's version.
// It returns ErrUpdateAvailable when there are any, listing them in the log.
func CheckForUpdate(ctx context.Context, svc Service, manifestPath string) ([]Change, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if m.Version == "" {
		return nil, errors.New("favicon manifest has no version")
	}

	changes, err := svc.CheckUpdate(ctx, m.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to check for favicon updates: %w", err)
	}

	if len(changes) == 0 {
		log.Info().Str("version", m.Version).Msg("Favicons are up to date")
		return nil, nil
	}

	for _, c := range changes {
		log.Warn().
			Str("version", c.Version).
			Bool("manual_update_required", c.Relevance.ManualUpdateRequired).
			Strs("changes", c.Changes).
			Msg("Favicon update available")
	}

	return changes, ErrUpdateAvailable
}
