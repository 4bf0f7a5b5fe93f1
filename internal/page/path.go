package page

import (
	"regexp"
	"strings"

	"trellis/internal/identity"
)

// Normalize prefixes the path with "/" when missing. Idempotent; nothing else
// is rewritten.
func Normalize(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

// IsPortal reports whether the path denotes a directory-style listing page.
// Portal pages are forced public at creation.
func IsPortal(path string) bool {
	return strings.HasSuffix(path, "/")
}

// UserPagePath is the canonical home path for a user's pages.
func UserPagePath(u identity.PublicUser) string {
	return "/user/" + u.Username
}

// deniedNames is the fixed deny-list for creatable page names: reserved
// characters, reserved prefixes, reserved per-user subpaths, absolute URLs
// (a rename gone wrong), editor suffixes, and reserved top-level names.
var deniedNames = []*regexp.Regexp{
	regexp.MustCompile(`\^|\$|\*|\+|#`),
	regexp.MustCompile(`^/_api/.*`),
	regexp.MustCompile(`^/-/.*`),
	regexp.MustCompile(`^/_r/.*`),
	regexp.MustCompile(`^/user/[^/]+/(bookmarks|comments|activities|pages|recent-create|recent-edit)`),
	regexp.MustCompile(`^http://.+$`),
	regexp.MustCompile(`.+/edit$`),
	regexp.MustCompile(`.+\.md$`),
	regexp.MustCompile(`^/(installer|register|login|logout|admin|me|files|trash|paste|comments).+`),
}

// IsCreatableName reports whether a page may be created under the given name.
// Any single deny-list match disqualifies it.
func IsCreatableName(name string) bool {
	for _, denied := range deniedNames {
		if denied.MatchString(name) {
			return false
		}
	}
	return true
}
