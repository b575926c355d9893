package util

import (
	"html"
	"net"
	"net/mail"
	"strings"
)

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// NormalizeEmail lowercases and trims an email address; returns "" when the
// address does not parse, so callers can treat it as absent.
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return ""
	}
	return s
}

// NormalizeIP returns the canonical textual form of an IP address, or "" when
// the input is not a valid address.
func NormalizeIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

// ClientIP extracts the requester origin from an X-Forwarded-For header value
// or a remote address, preferring the first forwarded hop.
func ClientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// ContainsSuspicious flags strings carrying script-like fragments
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
