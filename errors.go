package scdb

import "scdb/internal/scerr"

// Kind classifies an error the way callers need to branch on it (spec
// §7), re-exported here from internal/scerr so callers never need to
// import an internal package.
type Kind = scerr.Kind

const (
	KindNotFound            = scerr.KindNotFound
	KindAlreadyExists       = scerr.KindAlreadyExists
	KindInvalidArgument     = scerr.KindInvalidArgument
	KindPrimaryKeyViolation = scerr.KindPrimaryKeyViolation
	KindWrongPassword       = scerr.KindWrongPassword
	KindTamperDetected      = scerr.KindTamperDetected
	KindCorrupt             = scerr.KindCorrupt
	KindOutOfSpace          = scerr.KindOutOfSpace
	KindBusy                = scerr.KindBusy
	KindReadOnly            = scerr.KindReadOnly
	KindNotReady            = scerr.KindNotReady
	KindCancelled           = scerr.KindCancelled
	KindIO                  = scerr.KindIO
)

// Error is the concrete error type every exported operation returns on
// failure, re-exported from internal/scerr.
type Error = scerr.Error

// KindOf extracts the Kind from err, or KindUnknown if err does not carry
// one (spec §7).
func KindOf(err error) Kind {
	if se, ok := err.(*Error); ok {
		return se.Kind
	}
	return scerr.KindUnknown
}
