package service

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var profileNamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)

// ParseProfileRef extracts the bare profile name from a profile URL or handle.
// "https://www.instagram.com/naturelovers/", "instagram.com/naturelovers?hl=en"
// and "@naturelovers" all yield "naturelovers".
func ParseProfileRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", NewError(ErrInvalidInput, "no profile URL provided")
	}

	trimmed := ref
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	var name string
	segments := strings.Split(trimmed, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(segments[i]); s != "" {
			name = s
			break
		}
	}
	name = strings.TrimPrefix(name, "@")
	name = strings.ToLower(norm.NFKC.String(name))

	if !profileNamePattern.MatchString(name) || strings.Trim(name, ".") == "" {
		return "", NewError(ErrInvalidInput, fmt.Sprintf("invalid profile reference %q", ref)).
			WithContext("profile_ref", ref)
	}
	return name, nil
}
