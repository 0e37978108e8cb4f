package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

const globMeta = "*?[{"

// Pattern is a compiled source glob with gulp semantics, `**` matches zero or
// more directories.
type Pattern struct {
	raw     string
	base    string
	matches []glob.Glob
}

// Match is a file resolved from a Pattern.
type Match struct {
	// Absolute path of the file
	Path string
	// Path relative to the glob base, slash separated
	Rel string
}

// CompilePattern compiles pattern relative to root.
func CompilePattern(root, pattern string) (*Pattern, error) {
	full := filepath.ToSlash(pattern)
	if !filepath.IsAbs(pattern) {
		full = filepath.ToSlash(filepath.Join(root, pattern))
	}

	variants := []string{full}
	for v := full; strings.Contains(v, "/**/"); {
		v = strings.Replace(v, "/**/", "/", 1)
		variants = append(variants, v)
	}

	p := &Pattern{raw: pattern, base: globBase(full)}
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
		p.matches = append(p.matches, g)
	}

	return p, nil
}

// CompilePatterns compiles every pattern relative to root.
func CompilePatterns(root string, patterns []string) ([]*Pattern, error) {
	out := make([]*Pattern, 0, len(patterns))
	for _, raw := range patterns {
		p, err := CompilePattern(root, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p *Pattern) String() string { return p.raw }

// Base is the directory holding every file the pattern can match.
func (p *Pattern) Base() string { return filepath.FromSlash(p.base) }

// Match reports whether the absolute path matches the pattern.
func (p *Pattern) Match(path string) bool {
	path = filepath.ToSlash(path)
	for _, g := range p.matches {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// MatchFile maps path onto the pattern without touching the filesystem, so it
// also works for files that were just removed.
func (p *Pattern) MatchFile(path string) (Match, bool) {
	if !p.Match(path) {
		return Match{}, false
	}
	base := p.Base()
	if filepath.Clean(path) == base {
		return Match{Path: path, Rel: filepath.Base(path)}, true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return Match{}, false
	}
	return Match{Path: path, Rel: filepath.ToSlash(rel)}, true
}

// Resolve walks the pattern base and returns the matching files sorted by path.
func (p *Pattern) Resolve() ([]Match, error) {
	base := p.Base()

	info, err := os.Stat(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if p.Match(base) {
			return []Match{{Path: base, Rel: filepath.Base(base)}}, nil
		}
		return nil, nil
	}

	var out []Match
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !p.Match(path) {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		out = append(out, Match{Path: path, Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", p.raw, err)
	}

	return out, nil
}

// Resolve resolves every pattern, dropping files matched more than once.
func Resolve(patterns []*Pattern) ([]Match, error) {
	seen := make(map[string]bool)
	var out []Match
	for _, p := range patterns {
		matches, err := p.Resolve()
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if seen[m.Path] {
				continue
			}
			seen[m.Path] = true
			out = append(out, m)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

// MatchAny reports whether path matches one of the patterns.
func MatchAny(patterns []*Pattern, path string) bool {
	for _, p := range patterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// globBase returns the longest directory prefix free of glob metacharacters. A
// pattern without metacharacters is its own base.
func globBase(pattern string) string {
	idx := strings.IndexAny(pattern, globMeta)
	if idx == -1 {
		return pattern
	}
	prefix := pattern[:idx]
	slash := strings.LastIndex(prefix, "/")
	if slash <= 0 {
		return "/"
	}
	return prefix[:slash]
}
