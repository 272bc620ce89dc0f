package platform

import (
	"errors"

	"github.com/filigran/xtm-composer/pkg/errs"
)

// IsTransient reports whether err is a PlatformError the caller should
// retry on the next tick rather than treat as a hard failure.
func IsTransient(err error) bool {
	var platformErr *errs.PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Transient
	}
	return false
}
