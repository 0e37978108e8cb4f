package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// includeDirective matches `//= file.js` and `//= include file.js` lines.
var includeDirective = regexp.MustCompile(`(?m)^[ \t]*//=[ \t]*(?:include[ \t]+)?["']?([^"'\s]+)["']?[ \t]*\r?$`)

// relativeImport matches relative specifiers of import, export-from and dynamic
// import statements.
var relativeImport = regexp.MustCompile(`(\bfrom[ \t]*|\bimport[ \t]*\(?[ \t]*)["'](\.\.?/[^"'\n]+)["']`)

// includePlugin expands include directives before esbuild parses a script, so
// concatenated legacy sources and ES imports can be mixed in one bundle.
func includePlugin() api.Plugin {
	return api.Plugin{
		Name: "include",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: `\.(js|mjs|cjs)$`, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					var included []string
					contents, err := expandIncludes(args.Path, nil, &included)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					return api.OnLoadResult{
						Contents:   &contents,
						Loader:     api.LoaderJS,
						ResolveDir: filepath.Dir(args.Path),
						WatchFiles: included,
					}, nil
				})
		},
	}
}

// expandIncludes inlines directives recursively, paths are relative to the file
// holding the directive.
func expandIncludes(path string, stack []string, included *[]string) (string, error) {
	for _, p := range stack {
		if p == path {
			return "", fmt.Errorf("include cycle: %s -> %s", strings.Join(stack, " -> "), path)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if len(stack) > 0 {
			return "", fmt.Errorf("%s: include %s: %w", stack[len(stack)-1], path, err)
		}
		return "", err
	}

	stack = append(stack, path)

	var expandErr error
	out := includeDirective.ReplaceAllStringFunc(string(data), func(line string) string {
		if expandErr != nil {
			return line
		}
		target := includeDirective.FindStringSubmatch(line)[1]
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		*included = append(*included, target)

		body, err := expandIncludes(target, stack, included)
		if err != nil {
			expandErr = err
			return line
		}
		return strings.TrimRight(absoluteImports(body, filepath.Dir(target)), "\n")
	})
	if expandErr != nil {
		return "", expandErr
	}

	return out, nil
}

// absoluteImports rewrites relative import specifiers in an included file so
// they resolve from the file's own directory once inlined into another one.
func absoluteImports(src, dir string) string {
	return relativeImport.ReplaceAllStringFunc(src, func(stmt string) string {
		parts := relativeImport.FindStringSubmatch(stmt)
		target := filepath.ToSlash(filepath.Join(dir, filepath.FromSlash(parts[2])))
		return parts[1] + strconv.Quote(target)
	})
}
