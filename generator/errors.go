package generator

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. Everything except KindCredentialMissing
// is recovered at the per-item boundary.
type Kind string

const (
	KindCredentialMissing Kind = "CredentialMissing"
	KindTransport         Kind = "TransportFailure"
	KindMalformedResponse Kind = "MalformedResponse"
	KindNoArtifact        Kind = "NoArtifactFound"
	KindRender            Kind = "RenderFailure"
	KindIO                Kind = "IOFailure"
	KindDecode            Kind = "DecodeFailure"
)

// ErrCredentialMissing is returned before any network call when no API key is configured.
var ErrCredentialMissing = &Failure{Kind: KindCredentialMissing, Message: "api key missing; provide llm.api_key"}

// Failure is a classified, human-readable pipeline error.
type Failure struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches failures by kind so errors.Is(err, ErrCredentialMissing) works on wrapped copies.
func (f *Failure) Is(target error) bool {
	var t *Failure
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == f.Kind
}

// Failf builds a failure without an underlying cause.
func Failf(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err.
func Wrap(kind Kind, err error, msg string) *Failure {
	return &Failure{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the failure kind carried by err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
