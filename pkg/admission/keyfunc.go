package admission

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// RemoteAddressKey is the default key function: it partitions by client
// IP. The first hop of X-Forwarded-For wins when present, otherwise the
// host part of the connection's remote address.
func RemoteAddressKey(r *http.Request) (string, error) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); first != "" {
			return first, nil
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host, nil
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr, nil
	}
	return "", fmt.Errorf("request carries no remote address")
}

// HeaderKey partitions by a request header, typically an API key. A
// request without the header fails key resolution and is denied.
//
// Example:
//
//	admission.Declaration{KeyFunc: admission.HeaderKey("X-API-Key")}
func HeaderKey(name string) KeyFunc {
	return func(r *http.Request) (string, error) {
		v := strings.TrimSpace(r.Header.Get(name))
		if v == "" {
			return "", fmt.Errorf("request carries no %s header", name)
		}
		return v, nil
	}
}
