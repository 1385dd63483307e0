package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/logging"
)

// clientIP returns the caller address used for lockout, key allow-lists and
// the audit trail. Forwarding headers are honoured only when the socket peer
// is a trusted proxy. X-Forwarded-For is walked from the right, skipping
// trusted hops, so a client cannot prepend an address of its choosing.
func clientIP(r *http.Request, trusted []*net.IPNet) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !containsIP(trusted, net.ParseIP(peer)) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				// Anything left of a malformed hop is unverifiable.
				break
			}
			if !containsIP(trusted, ip) || i == 0 {
				return ip.String()
			}
		}
	}

	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer
}

// parseNetworks converts validated IP and CIDR strings to networks. A bare
// IP becomes a single-host network.
func parseNetworks(list []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(list))
	for _, entry := range list {
		if _, n, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 128
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteError sends a JSON error response
func WriteError(w http.ResponseWriter, code int, message string, details ...string) {
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	WriteJSON(w, code, resp)
}

// WriteJSON sends a JSON success response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeErr maps a component error to its status code. Internal faults are
// logged; the client gets the component's message, which for execution
// faults is the external command's stderr.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := errors.KindOf(err)
	if kind == errors.KindInternal || kind == errors.KindExecution || kind == errors.KindTimeout {
		s.requestLogger(r).Error("request failed", "kind", kind.String(), "error", err)
	}
	WriteError(w, kind.HTTPStatus(), errors.ClientMessage(err))
}

// requestLogger scopes the server logger to r.
func (s *Server) requestLogger(r *http.Request) *logging.Logger {
	return s.logger.WithFields(map[string]any{
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": requestID(r.Context()),
		"ip":         s.clientIP(r),
	})
}

// decodeJSON reads the body into dst and validates it. On failure the
// response has been written and false is returned. message replaces the
// validator output as the error text; the field errors go to details.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, message string) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxErr):
			WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		case stderrors.Is(err, io.EOF):
			WriteError(w, http.StatusBadRequest, message, "empty request body")
		default:
			WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		}
		return false
	}
	if err := validate.Struct(dst); err != nil {
		WriteError(w, http.StatusBadRequest, message, describeValidation(err))
		return false
	}
	return true
}
