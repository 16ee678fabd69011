package monitor

import (
	"errors"
	"net/http"

	internalhttp "github.com/example/go-itslive/internal/http"
)

var (
	// ErrDuplicateSubmission is wrapped by submitters when the processing
	// service refuses a pair it is already handling.
	ErrDuplicateSubmission = errors.New("monitor: duplicate submission")
	// ErrRejected is wrapped by collaborators for definitive, non-HTTP
	// rejections of a well-formed request.
	ErrRejected = errors.New("monitor: request rejected")
)

// isRejection reports whether err is a permanent client-side failure.
// Everything else is treated as transient.
func isRejection(err error) bool {
	return errors.Is(err, ErrRejected) || internalhttp.IsRejection(err)
}

func isDuplicateSubmission(err error) bool {
	if errors.Is(err, ErrDuplicateSubmission) {
		return true
	}
	var statusErr *internalhttp.StatusError
	return errors.As(err, &statusErr) && statusErr.Status == http.StatusConflict
}
