package clog

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
)

type Level int

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// HTTPStatusToLevel treats client disconnects (499) like success, other 4xx
// as warnings and 5xx as errors.
func HTTPStatusToLevel(status int) Level {
	switch {
	case status == 499, status >= 100 && status < 400:
		return LevelInfo
	case status >= 400 && status < 500:
		return LevelWarn
	default:
		return LevelError
	}
}

// errorCodes are the codes that point at a server-side fault rather than a
// bad request.
var errorCodes = map[connect.Code]bool{
	connect.CodeUnknown:           true,
	connect.CodeResourceExhausted: true,
	connect.CodeUnimplemented:     true,
	connect.CodeInternal:          true,
	connect.CodeUnavailable:       true,
	connect.CodeDataLoss:          true,
}

func ConnectCodeToLevel(code connect.Code) Level {
	if code == 0 || errorCodes[code] || code > connect.CodeUnauthenticated {
		return LevelError
	}
	return LevelInfo
}

// Log emits msg at the slog level matching l.
func Log(ctx context.Context, l Level, msg string, args ...any) {
	slog.Log(ctx, l.slogLevel(), msg, args...)
}
