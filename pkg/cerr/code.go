package cerr

import (
	"net/http"

	"connectrpc.com/connect"
)

// Code classifies an error for API callers. Values follow the connect/gRPC
// code numbering so they convert both ways without a lookup.
type Code int

const (
	OK                 = Code(0)
	Canceled           = Code(connect.CodeCanceled)
	Unknown            = Code(connect.CodeUnknown)
	InvalidArgument    = Code(connect.CodeInvalidArgument)
	DeadlineExceeded   = Code(connect.CodeDeadlineExceeded)
	NotFound           = Code(connect.CodeNotFound)
	AlreadyExists      = Code(connect.CodeAlreadyExists)
	PermissionDenied   = Code(connect.CodePermissionDenied)
	ResourceExhausted  = Code(connect.CodeResourceExhausted)
	FailedPrecondition = Code(connect.CodeFailedPrecondition)
	Aborted            = Code(connect.CodeAborted)
	OutOfRange         = Code(connect.CodeOutOfRange)
	Unimplemented      = Code(connect.CodeUnimplemented)
	Internal           = Code(connect.CodeInternal)
	Unavailable        = Code(connect.CodeUnavailable)
	DataLoss           = Code(connect.CodeDataLoss)
	Unauthenticated    = Code(connect.CodeUnauthenticated)
)

type codeInfo struct {
	name   string
	status int
}

var codes = map[Code]codeInfo{
	OK:                 {"ok", http.StatusOK},
	Canceled:           {"canceled", 499},
	Unknown:            {"unknown", http.StatusInternalServerError},
	InvalidArgument:    {"invalid_argument", http.StatusBadRequest},
	DeadlineExceeded:   {"deadline_exceeded", http.StatusGatewayTimeout},
	NotFound:           {"not_found", http.StatusNotFound},
	AlreadyExists:      {"already_exists", http.StatusConflict},
	PermissionDenied:   {"permission_denied", http.StatusForbidden},
	ResourceExhausted:  {"resource_exhausted", http.StatusTooManyRequests},
	FailedPrecondition: {"failed_precondition", http.StatusPreconditionFailed},
	Aborted:            {"aborted", http.StatusConflict},
	OutOfRange:         {"out_of_range", http.StatusBadRequest},
	Unimplemented:      {"unimplemented", http.StatusNotImplemented},
	Internal:           {"internal", http.StatusInternalServerError},
	Unavailable:        {"unavailable", http.StatusServiceUnavailable},
	DataLoss:           {"data_loss", http.StatusInternalServerError},
	Unauthenticated:    {"unauthenticated", http.StatusUnauthorized},
}

func (c Code) String() string {
	if info, ok := codes[c]; ok {
		return info.name
	}
	return "unknown"
}

func (c Code) ConnectCode() connect.Code {
	if _, ok := codes[c]; !ok {
		return connect.CodeUnknown
	}
	return connect.Code(c)
}

func (c Code) HTTPCode() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}
