package main

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vango-dev/remoteviz/internal/errors"
	"github.com/vango-dev/remoteviz/pkg/session"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func asError(err error, target **errors.Error) bool {
	return stderrors.As(err, target)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// sessionError turns a session failure into a coded CLI error. role picks
// the connection code: a worker fails to listen, a viewer fails to dial.
func sessionError(err error, role string) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if asError(err, &e) {
		return err
	}

	var code string
	switch session.KindOf(err) {
	case session.KindConnection:
		code = errors.CodeConnect
		if role == telemetry.RoleWorker {
			code = errors.CodeListen
		}
	case session.KindCodec:
		code = errors.CodeCodec
	case session.KindProtocol:
		code = errors.CodeProtocol
	case session.KindTransport:
		code = errors.CodeTransport
		if stderrors.Is(err, session.ErrAborted) {
			code = errors.CodeSessionAbort
		}
	default:
		return err
	}
	return errors.New(code).Wrap(err)
}

// interrupted reports whether err only records that ctx was cancelled by
// a signal, which counts as a clean exit.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (stderrors.Is(err, context.Canceled) || session.KindOf(err) == session.KindTransport)
}
