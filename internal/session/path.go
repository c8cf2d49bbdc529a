package session

import "strings"

// ProjectPath returns where a console at current should be for projectID
// and whether a redirect is needed. A path already naming the project is
// never redirected, which keeps the redirect one-shot.
func ProjectPath(current, projectID string) (string, bool) {
	if projectID == "" {
		return current, false
	}
	for _, seg := range strings.Split(current, "/") {
		if seg == projectID {
			return current, false
		}
	}
	return "/projects/" + projectID + "/requests", true
}
