package git

import (
	"errors"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
)

// FetchReason narrows a fetch failure down for callers and logs.
type FetchReason string

const (
	ReasonAuth                FetchReason = "auth"
	ReasonNotFound            FetchReason = "not_found"
	ReasonUnsupportedProtocol FetchReason = "unsupported_protocol"
	ReasonNetwork             FetchReason = "network"
	ReasonDestinationNotEmpty FetchReason = "destination_not_empty"
	ReasonUnknown             FetchReason = "unknown"
)

const reasonKey = "reason"

// Reason extracts the FetchReason of err, or "" when err is not a fetch error.
func Reason(err error) FetchReason {
	ce, ok := ferrors.AsClassified(err)
	if !ok {
		return ""
	}
	r, ok := ce.Context().GetString(reasonKey)
	if !ok {
		return ""
	}
	return FetchReason(r)
}

// IsFetchError reports whether err came out of a fetch operation.
func IsFetchError(err error) bool {
	return Reason(err) != ""
}

// classify translates go-git failures into git-category ClassifiedErrors.
func classify(err error, op, url string) error {
	if err == nil {
		return nil
	}
	if _, ok := ferrors.AsClassified(err); ok {
		return err
	}

	reason := reasonOf(err)
	b := ferrors.FetchError(op+" failed").
		WithCause(err).
		WithContext("op", op).
		WithContext("url", url).
		WithContext(reasonKey, string(reason))

	switch reason {
	case ReasonAuth:
		b.UserAction()
	case ReasonNetwork:
		b.Retryable()
	}
	return b.Build()
}

func reasonOf(err error) FetchReason {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod):
		return ReasonAuth
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, git.ErrRepositoryNotExists):
		return ReasonNotFound
	case errors.Is(err, git.ErrRepositoryAlreadyExists):
		return ReasonDestinationNotEmpty
	}

	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "authentication") || strings.Contains(l, "auth fail") ||
		strings.Contains(l, "invalid username or password") || strings.Contains(l, "could not read username"):
		return ReasonAuth
	case strings.Contains(l, "repository not found") || strings.Contains(l, "repository does not exist") ||
		strings.Contains(l, "not found") || strings.Contains(l, "no such file or directory"):
		return ReasonNotFound
	case strings.Contains(l, "unsupported protocol") || strings.Contains(l, "protocol not supported") ||
		strings.Contains(l, "unsupported scheme"):
		return ReasonUnsupportedProtocol
	case strings.Contains(l, "timeout") || strings.Contains(l, "connection refused") ||
		strings.Contains(l, "connection reset") || strings.Contains(l, "no such host") ||
		strings.Contains(l, "no route to host") || strings.Contains(l, "remote hung up"):
		return ReasonNetwork
	default:
		return ReasonUnknown
	}
}
