package valuation

import "errors"

// Sentinel errors per the error handling design: each is surfaced to a
// specific caller who decides the fallback, never retried automatically.
var (
	// ErrProvider indicates an HTTP/transport/envelope failure from the quote provider.
	ErrProvider = errors.New("valuation: quote provider error")
	// ErrMalformedBar indicates an OHLCV row missing or mis-typing a required field.
	ErrMalformedBar = errors.New("valuation: malformed bar")
	// ErrUnknownRate indicates no direct FX rate is stored for a currency pair.
	ErrUnknownRate = errors.New("valuation: unknown fx rate")
	// ErrNoPrice indicates no OHLCV bar exists at or before the requested instant.
	ErrNoPrice = errors.New("valuation: no price available")
	// ErrBadBondRange indicates the bond's target horizon precedes its purchase date.
	ErrBadBondRange = errors.New("valuation: bad bond range")
	// ErrOverlappingHistory indicates backfill is unnecessary — history already covers the date.
	ErrOverlappingHistory = errors.New("valuation: overlapping history")
)
