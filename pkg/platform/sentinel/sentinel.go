package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, codecs and clients return
// these (optionally wrapped) so callers can branch with errors.Is:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: unique key already taken
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: dependency temporarily unavailable (circuit open, outage)
// - ErrDecode: stored or transmitted data could not be decoded
// - ErrInvalidKey: key material has the wrong shape for the algorithm
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrDecode       = errors.New("decode error")
	ErrInvalidKey   = errors.New("invalid key")
)
