package identity

import (
	"context"
	"errors"

	"github.com/learnlive/learnlive/internal/i18n"
)

// Error kinds reported by the provider.
const (
	KindInvalidEmail    = "auth/invalid-email"
	KindEmailInUse      = "auth/email-already-in-use"
	KindWeakPassword    = "auth/weak-password"
	KindUserNotFound    = "auth/user-not-found"
	KindWrongPassword   = "auth/wrong-password"
	KindTooManyRequests = "auth/too-many-requests"
)

// Error is a provider failure with a machine-readable kind.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

func newError(kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Kind returns the provider error kind of err, or "" if err is not an *Error.
func Kind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var kindMessages = map[string]string{
	KindInvalidEmail:    "AuthInvalidEmail",
	KindEmailInUse:      "AuthEmailInUse",
	KindWeakPassword:    "AuthWeakPassword",
	KindUserNotFound:    "AuthWrongCredentials",
	KindWrongPassword:   "AuthWrongCredentials",
	KindTooManyRequests: "AuthTooManyRequests",
}

// Message maps err to a short readable string in the context's language.
func Message(ctx context.Context, err error) string {
	kind := Kind(err)
	if id, ok := kindMessages[kind]; ok {
		return i18n.T(ctx, id)
	}
	if kind != "" {
		return i18n.Td(ctx, "AuthErrorCode", map[string]any{"Code": kind})
	}
	return i18n.T(ctx, "AuthGeneric")
}
