package cerr

import (
	"context"
	"net/http"
)

type responseReceiverKey struct{}

// responseReceiver holds what a handler wants written. The middleware writes
// it once the handler returns.
type responseReceiver struct {
	status   int
	response any
	err      error
}

func receiverFrom(ctx context.Context) *responseReceiver {
	rr, _ := ctx.Value(responseReceiverKey{}).(*responseReceiver)
	return rr
}

func SetJSONResponse(ctx context.Context, response any) {
	SetJSONResponseWithStatus(ctx, 0, response)
}

// SetJSONResponseWithStatus is SetJSONResponse with a non-200 success status.
func SetJSONResponseWithStatus(ctx context.Context, status int, response any) {
	if rr := receiverFrom(ctx); rr != nil {
		rr.status = status
		rr.response = response
	}
}

// SetNoContent answers 204 without a body.
func SetNoContent(ctx context.Context) {
	if rr := receiverFrom(ctx); rr != nil {
		rr.status = http.StatusNoContent
		rr.response = nil
	}
}

func SetJSONError(ctx context.Context, err error) {
	if rr := receiverFrom(ctx); rr != nil {
		rr.err = err
	}
}

func SetNewJSONError(ctx context.Context, code Code, msg string, err error) {
	SetJSONError(ctx, NewError(code, msg, err))
}

// NewConvertConnectErrorChiMiddleware lets handlers report results through
// the Set* functions and renders them as JSON, with errors mapped to their
// HTTP status.
func NewConvertConnectErrorChiMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rr := &responseReceiver{}
			ctx := context.WithValue(r.Context(), responseReceiverKey{}, rr)
			next.ServeHTTP(rw, r.WithContext(ctx))
			ExtractToHTTPResponse(ctx, rw, rr)
		})
	}
}
