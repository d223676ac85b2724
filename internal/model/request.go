// Package model defines shared types for the proxy data path.
package model

// Request is a client request parsed off the wire, valid for a single
// exchange. Header keys are stored as received with surrounding whitespace
// trimmed; duplicate keys keep the last value.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers map[string]string
	// Body is nil when the request carried no Content-Length header and
	// non-nil (possibly empty) when it did.
	Body []byte
}

// Result is the outcome of forwarding a request upstream. Failures are
// folded into a synthetic response, so there is always something to relay.
type Result struct {
	Status int
	Body   string
}
