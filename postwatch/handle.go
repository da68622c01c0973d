package postwatch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hazyhaar/postwatch/postwatch/internal/store"
)

var handleRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// normalizeHandle validates a user-supplied handle. It returns the storage
// key and the display form (original casing, no "@").
func normalizeHandle(raw string) (key, display string, err error) {
	display = strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if !handleRe.MatchString(display) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
	}
	return store.Key(display), display, nil
}
