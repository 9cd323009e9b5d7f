package client

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// FailureKind groups outbound errors by what went wrong on the way to the
// backend. It is used for both the caller-facing status and metric labels.
type FailureKind string

const (
	FailureCanceled   FailureKind = "canceled"
	FailureTimeout    FailureKind = "timeout"
	FailureDNS        FailureKind = "dns"
	FailureConnection FailureKind = "connection"
	FailureOther      FailureKind = "other"
)

// Classify returns the FailureKind for an error returned by DoStream.
func Classify(err error) FailureKind {
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return FailureTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureDNS
	}

	var opErr *net.OpError
	var urlErr *url.Error
	if errors.As(err, &opErr) || errors.As(err, &urlErr) {
		return FailureConnection
	}

	return FailureOther
}
