package client

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Sternrassler/polymarket-data/pkg/errs"
)

// maxErrorBody bounds the response body quoted in error messages.
const maxErrorBody = 256

// classifyStatus maps a non-2xx response to a classified error.
//
//   - 429: transient, rate_limit
//   - 5xx: transient, server
//   - other 4xx and unexpected codes: fatal, client
func classifyStatus(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &errs.Error{Kind: errs.KindTransient, Class: errs.ClassRateLimit, Op: op, StatusCode: status, Message: msg}
	case status >= 500:
		return &errs.Error{Kind: errs.KindTransient, Class: errs.ClassServer, Op: op, StatusCode: status, Message: msg}
	default:
		// 4xx errors should NOT be retried (the request itself is wrong)
		return &errs.Error{Kind: errs.KindFatal, Class: errs.ClassClient, Op: op, StatusCode: status, Message: msg}
	}
}

// classifyTransport maps an error from http.Client.Do. Cancellation of the
// caller's context is returned unclassified so it is never retried.
func classifyTransport(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errs.Transient(op, errs.ClassNetwork, 0, err)
}

// decodeError marks an undecodable response body.
func decodeError(op string, status int, err error) error {
	return &errs.Error{Kind: errs.KindFatal, Class: errs.ClassDecode, Op: op, StatusCode: status, Err: err}
}
