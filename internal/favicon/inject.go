package favicon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/assets"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// LoadManifest reads a manifest saved by the generator.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoManifest, path)
	}
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid favicon manifest %s: %w", path, err)
	}
	return &m, nil
}

// Inject rewrites each HTML file so its head carries exactly the favicon markup
// from the manifest. Existing favicon tags are replaced, so running it twice
// gives the same document.
func Inject(manifestPath string, htmlPaths ...string) error {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(m.Favicon.HTMLCode) == "" {
		return fmt.Errorf("favicon manifest %s has no markup", manifestPath)
	}

	for _, p := range htmlPaths {
		if err := injectFile(p, m.Favicon.HTMLCode); err != nil {
			return fmt.Errorf("failed to inject favicon markup into %s: %w", p, err)
		}
		log.Info().Str("file", p).Msg("Favicon markup injected")
	}
	return nil
}

func injectFile(path, code string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	out, err := injectMarkup(src, code)
	if err != nil {
		return err
	}
	if bytes.Equal(src, out) {
		return nil
	}

	return assets.WriteFile(path, out)
}

func injectMarkup(src []byte, code string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}

	head := findHead(doc)
	if head == nil {
		return nil, errors.New("document has no head")
	}

	snippet, err := html.ParseFragment(strings.NewReader(code), &html.Node{
		Type:     html.ElementNode,
		Data:     "head",
		DataAtom: atom.Head,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid favicon markup: %w", err)
	}

	keys := make(map[string]bool)
	var elements []*html.Node
	for _, n := range snippet {
		if n.Type != html.ElementNode {
			continue
		}
		keys[key(n)] = true
		elements = append(elements, n)
	}

	for c := head.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && (isFaviconMarkup(c) || keys[key(c)]) {
			head.RemoveChild(c)
		}
		c = next
	}

	for _, n := range elements {
		head.AppendChild(n)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func findHead(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Head {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if h := findHead(c); h != nil {
			return h
		}
	}
	return nil
}

var faviconRels = map[string]bool{
	"icon":             true,
	"shortcut icon":    true,
	"apple-touch-icon": true,
	"manifest":         true,
	"mask-icon":        true,
}

func isFaviconMarkup(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Link:
		return faviconRels[strings.ToLower(attr(n, "rel"))]
	case atom.Meta:
		name := strings.ToLower(attr(n, "name"))
		return name == "theme-color" || strings.HasPrefix(name, "msapplication-")
	}
	return false
}

func key(n *html.Node) string {
	switch n.DataAtom {
	case atom.Link:
		return "link|" + strings.ToLower(attr(n, "rel")) + "|" + attr(n, "sizes")
	case atom.Meta:
		return "meta|" + strings.ToLower(attr(n, "name"))
	default:
		return n.Data + "|" + attr(n, "id")
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
