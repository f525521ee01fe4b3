package service

import (
	"fmt"
	"net/http"
	"sort"

	"golang.org/x/net/http/httpguts"
)

// DefaultMaxCustomHeaders bounds the custom headers stored per subscription.
const DefaultMaxCustomHeaders = 20

// protectedHeaders are set by the dispatcher and can never be supplied by a
// subscription. Keys are canonical.
var protectedHeaders = map[string]struct{}{
	HeaderSignature:        {},
	HeaderSignatureVersion: {},
	HeaderEventID:          {},
	HeaderEventType:        {},
	HeaderTimestamp:        {},
	"Content-Type":         {},
	"Content-Length":       {},
	"Host":                 {},
	"User-Agent":           {},

	// hop-by-hop
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// IsProtectedHeader reports whether name is reserved for the dispatcher.
func IsProtectedHeader(name string) bool {
	_, ok := protectedHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

// normalizeHeaders validates custom delivery headers and returns them keyed
// by canonical name. An empty map normalizes to nil.
func normalizeHeaders(headers map[string]string, max int) (map[string]string, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	if max > 0 && len(headers) > max {
		return nil, fmt.Errorf("at most %d custom headers are allowed", max)
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(headers))
	for _, name := range names {
		value := headers[name]
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("invalid value for header %q", name)
		}
		canonical := http.CanonicalHeaderKey(name)
		if IsProtectedHeader(canonical) {
			return nil, fmt.Errorf("header %q is reserved", canonical)
		}
		if _, dup := out[canonical]; dup {
			return nil, fmt.Errorf("header %q is given more than once", canonical)
		}
		out[canonical] = value
	}
	return out, nil
}
