package favicon

import (
	"context"
	"errors"

	"github.com/wolfeidau/sitepipe/internal/config"
)

var (
	ErrMissingAPIKey   = errors.New("favicon service api key is not configured")
	ErrUpdateAvailable = errors.New("a favicon update is available")
	ErrNoManifest      = errors.New("favicon manifest not found, generate the favicons first")
)

// Service is the remote favicon generator.
type Service interface {
	// Generate renders the icon set for req.
	Generate(ctx context.Context, req *Request) (*Manifest, error)
	// Download fetches a generated file or package.
	Download(ctx context.Context, url string) ([]byte, error)
	// CheckUpdate lists the changes published since version.
	CheckUpdate(ctx context.Context, version string) ([]Change, error)
}

// Request is the body sent to the service to generate an icon set.
type Request struct {
	APIKey        string          `json:"api_key"`
	MasterPicture MasterPicture   `json:"master_picture"`
	FilesLocation FilesLocation   `json:"files_location"`
	Design        config.Design   `json:"favicon_design"`
	Settings      config.Settings `json:"settings"`
}

type MasterPicture struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
}

type FilesLocation struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// Manifest is the generation result, saved to disk as the manifest file and
// used later to inject markup and check for updates.
type Manifest struct {
	Result            Status        `json:"result"`
	Favicon           Package       `json:"favicon"`
	FilesLocation     FilesLocation `json:"files_location"`
	PreviewPictureURL string        `json:"preview_picture_url,omitempty"`
	Version           string        `json:"version"`
}

type Status struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type Package struct {
	PackageURL string   `json:"package_url,omitempty"`
	FilesURLs  []string `json:"files_urls,omitempty"`
	HTMLCode   string   `json:"html_code"`
}

// Change is one published update to the favicon service.
type Change struct {
	Version   string    `json:"version"`
	Date      string    `json:"date,omitempty"`
	Relevance Relevance `json:"relevance"`
	Changes   []string  `json:"change,omitempty"`
}

type Relevance struct {
	AutomatedUpdate      bool `json:"automated_update"`
	ManualUpdateRequired bool `json:"manual_update_required"`
}
