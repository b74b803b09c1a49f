// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import "net/http"

// userID extracts the caller identity. The backend trusts the host
// app's proxy to set the header; without one, requests act as the
// single default user.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "default"
}
