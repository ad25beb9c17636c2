package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/viralforge/referral-platform/internal/application"
)

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func parseIntDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// clientIP returns the direct peer address unless that peer is a trusted proxy, in
// which case X-Forwarded-For is walked right to left and the first untrusted hop wins.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := remoteHost(r.RemoteAddr)
	if !isTrusted(peer, trusted) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
		peer = hop
	}
	return peer
}

func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (h *Handler) requestMeta(r *http.Request) application.RequestMeta {
	return application.RequestMeta{
		IPAddress:      clientIP(r, h.proxies),
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	logHTTPOperationError(ctx, operation, status, code, msg, err)
	writeError(w, status, code, msg)
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	code := "VALIDATION_ERROR"
	msg := err.Error()
	logHTTPOperationError(ctx, operation, http.StatusBadRequest, code, msg, err)
	writeError(w, http.StatusBadRequest, code, msg)
}

func writeMissingBearerError(ctx context.Context, w http.ResponseWriter, operation string) {
	code := "UNAUTHORIZED"
	msg := "missing bearer token"
	logHTTPOperationError(ctx, operation, http.StatusUnauthorized, code, msg, nil)
	writeError(w, http.StatusUnauthorized, code, msg)
}
