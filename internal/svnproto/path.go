package svnproto

import (
	"strings"

	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// ValidatePath rejects path arguments the editor drive must never accept
// (spec.md §4.3 "Path arguments are validated", §8 "Path validator"):
// empty, "/", ".", "..", any component equal to "." or "..", any
// doubled "/", any trailing "/.", any leading "/", and any NUL byte.
func ValidatePath(path string) error {
	if path == "" {
		return svnerr.New(svnerr.Path, "empty path")
	}
	if strings.IndexByte(path, 0) >= 0 {
		return svnerr.New(svnerr.Path, "path %q contains a NUL byte", path)
	}
	if strings.HasPrefix(path, "/") {
		return svnerr.New(svnerr.Path, "path %q has a leading slash", path)
	}
	if strings.Contains(path, "//") {
		return svnerr.New(svnerr.Path, "path %q contains a doubled slash", path)
	}
	if strings.HasSuffix(path, "/.") {
		return svnerr.New(svnerr.Path, "path %q has a trailing /.", path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == "." || part == ".." {
			return svnerr.New(svnerr.Path, "path %q has a %q component", path, part)
		}
	}
	return nil
}
