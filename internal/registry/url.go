package registry

import (
	"errors"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	errEmptyURL    = errors.New("url is empty")
	errInvalidURL  = errors.New("url does not parse")
	errMissingHost = errors.New("url has no host")
)

// NormalizeURL trims raw, adds an https scheme when none is given and checks
// the result is an absolute URL with a host.
func NormalizeURL(v *validator.Validate, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errEmptyURL
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	if err := v.Var(s, "url"); err != nil {
		return "", errInvalidURL
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", errInvalidURL
	}
	if u.Hostname() == "" {
		return "", errMissingHost
	}
	return s, nil
}
