package transcoder

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidState is returned when an operation is called out of order,
	// e.g. Run without an input or Configure while running.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidArgument is returned for missing or malformed arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOutputFormat is returned when no acceptable output format
	// exists: the strategy declined, or a determined format was rejected.
	ErrInvalidOutputFormat = errors.New("invalid output format")
	// ErrCanceled is returned when a run is canceled through its context.
	ErrCanceled = errors.New("transcode canceled")

	ErrNoVideoTrack      = errors.New("no video track")
	ErrEncryptedSource   = errors.New("encrypted sources are not supported")
	ErrUnsupportedInput  = errors.New("unsupported input container")
	ErrMuxerNotStarted   = errors.New("muxer not started")
	ErrMuxerStarted      = errors.New("muxer already started")
	ErrProviderNotFound  = errors.New("provider not available")
	ErrCodecNotSupported = errors.New("codec not supported by provider")
)

// canceledError matches both ErrCanceled and the context error that caused it.
type canceledError struct {
	cause error
}

func (e *canceledError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCanceled, e.cause)
}

func (e *canceledError) Is(target error) bool { return target == ErrCanceled }

func (e *canceledError) Unwrap() error { return e.cause }

// TeardownError reports a failure to release the demuxer or a track pipeline.
// Native resources may have leaked, so the engine panics with it instead of
// returning it.
type TeardownError struct {
	Op  string // component that failed to release
	Err error  // release failure
	Run error  // error the run ended with, if any
}

func (e *TeardownError) Error() string {
	var merr *multierror.Error
	merr = multierror.Append(merr, errors.Wrapf(e.Err, "release %s", e.Op))
	if e.Run != nil {
		merr = multierror.Append(merr, errors.Wrap(e.Run, "run"))
	}
	merr.ErrorFormat = func(errs []error) string {
		msg := "could not shut down demuxer and codec pipelines"
		for _, err := range errs {
			msg += "; " + err.Error()
		}
		return msg
	}
	return merr.Error()
}

func (e *TeardownError) Unwrap() error { return e.Err }
