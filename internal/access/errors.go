package access

import "errors"

var (
	// ErrForbidden indicates the viewer is not entitled to the video through
	// the given application.
	ErrForbidden = errors.New("viewer not authorized for video")
	// ErrSessionExpiredTooLong indicates the token lapsed beyond the refresh
	// grace period; the viewer must request access again.
	ErrSessionExpiredTooLong = errors.New("session expired too long ago")
	// ErrRefreshTooEarly indicates the token is not yet inside the refresh window.
	ErrRefreshTooEarly = errors.New("refresh requested too early")
	// ErrStorageUnavailable wraps infrastructure failures that are safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
