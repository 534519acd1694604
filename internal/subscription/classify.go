package subscription

import (
	"errors"
	"strings"
)

type coder interface {
	ErrorCode() string
}

// IsAuthError reports whether err looks like a stale or missing credential:
// its code mentions "permission" or "unauth", or its message mentions
// "token" or "expired".
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var c coder
	if errors.As(err, &c) {
		code := strings.ToLower(c.ErrorCode())
		if strings.Contains(code, "permission") || strings.Contains(code, "unauth") {
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "token") || strings.Contains(message, "expired")
}
