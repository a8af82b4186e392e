// Package types holds the JSON envelopes every HTTP response is wrapped in.
package types

// SuccessEnvelope wraps successful payloads under a single "data" key so
// clients never have to sniff the top-level shape.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public face of a failure. Code is a stable machine string,
// Message is safe to show end users, Details carries field-level validation
// errors when present.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
