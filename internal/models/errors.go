package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrConfiguration        = errors.New("configuration error")
	ErrNotFound             = errors.New("not found")
	ErrUnconfirmed          = errors.New("transaction not yet confirmed")
	ErrVerificationMismatch = errors.New("verification mismatch")
	ErrMalformedData        = errors.New("malformed transaction data")
	ErrDuplicateSignature   = errors.New("duplicate signature")
	ErrInsufficientCredit   = errors.New("insufficient credit")
	ErrSubmission           = errors.New("submission failed")
)

// SignatureError ties a terminal failure to the on-chain signature it concerns,
// so the caller can still reconcile it against the chain.
type SignatureError struct {
	Err         error
	Signature   string
	ExplorerURL string
	Amount      uint64
	Detail      string
}

func (e *SignatureError) Error() string {
	msg := e.Err.Error()
	if e.Signature != "" {
		msg = fmt.Sprintf("%s (signature %s)", msg, e.Signature)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}

func NewSignatureError(err error, signature, detail string) *SignatureError {
	return &SignatureError{Err: err, Signature: signature, Detail: detail}
}

// SignatureOf extracts the signature and explorer link from err, if any.
func SignatureOf(err error) (string, string) {
	var se *SignatureError
	if errors.As(err, &se) {
		return se.Signature, se.ExplorerURL
	}
	return "", ""
}

// Configurationf builds an ErrConfiguration with a formatted detail.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
