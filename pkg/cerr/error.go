package cerr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"

	"github.com/mikaelliljedahl/prfactory/pkg/clog"
)

// Error is an error with an API code. Msg and Details are shown to callers;
// Err and Stack only reach the logs.
type Error struct {
	Code    Code
	Msg     string
	Err     error
	Stack   string
	Details []string
}

// NewError builds an Error. A stack trace is captured for codes that log at
// error level.
func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{Code: code, Msg: msg, Err: underlying}
	if clog.ConnectCodeToLevel(code.ConnectCode()) == clog.LevelError {
		stack := make([]byte, 2048)
		err.Stack = string(stack[:runtime.Stack(stack, false)])
	}
	return err
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) AddDetailMessage(msg string) *Error {
	e.Details = append(e.Details, msg)
	return e
}

func IsCode(err error, code Code) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Code == code
}

type httpError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// isClientGone reports errors caused by the caller going away mid-request.
func isClientGone(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.Err == "operation was canceled"
}

func ExtractToHTTPResponse(ctx context.Context, rw http.ResponseWriter, rr *responseReceiver) {
	switch {
	case rr.err != nil:
	case rr.status == http.StatusNoContent:
		rw.WriteHeader(http.StatusNoContent)
		return
	case rr.status == 0 && rr.response == nil:
		return
	default:
		writeJSON(ctx, rw, rr.status, rr.response)
		return
	}

	if isClientGone(rr.err) {
		writeJSONError(ctx, rw, NewError(Canceled, "connection closed", rr.err))
		return
	}
	clog.AddError(ctx, rr.err)
	var cErr *Error
	if !errors.As(rr.err, &cErr) {
		cErr = NewError(Unknown, "unknown error", rr.err)
	}
	if cErr.Stack != "" {
		clog.AddStack(ctx, cErr.Stack)
	}
	writeJSONError(ctx, rw, cErr)
}

func encode(v any) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeJSON(ctx context.Context, rw http.ResponseWriter, status int, response any) {
	if status == 0 {
		status = http.StatusOK
	}
	buf, err := encode(response)
	if err != nil {
		writeJSONError(ctx, rw, NewError(Internal, "server error", err))
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	if _, err := rw.Write(buf.Bytes()); err != nil {
		clog.AddError(ctx, NewError(Internal, "server error", err))
	}
}

func writeJSONError(ctx context.Context, rw http.ResponseWriter, origErr *Error) {
	buf, err := encode(httpError{Code: origErr.Code.String(), Message: origErr.Msg, Details: origErr.Details})
	if err != nil {
		buf = bytes.NewBufferString(`{"code":"internal","message":"server error"}` + "\n")
		origErr.Err = errors.Join(origErr.Err, err)
		clog.AddError(ctx, origErr)
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(origErr.Code.HTTPCode())
	if _, err := rw.Write(buf.Bytes()); err != nil {
		origErr.Err = errors.Join(origErr.Err, err)
		clog.AddError(ctx, origErr)
	}
}
