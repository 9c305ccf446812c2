package httpclient

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

// classifyTransportError maps a transport failure from http.Client.Do into
// an engine-native error kind. Deadline expiry (context or client timeout)
// is tool_timeout; everything else at the transport level (connection
// refused, DNS, TLS) is tool_http.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return mesherr.Wrap(mesherr.KindToolTimeout, err, "request deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return mesherr.Wrap(mesherr.KindCancelled, err, "request cancelled")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return mesherr.Wrap(mesherr.KindToolTimeout, err, "request timed out")
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return mesherr.Wrap(mesherr.KindToolTimeout, err, "request timed out")
	}

	return mesherr.Wrap(mesherr.KindToolHTTP, err, "transport failure")
}
