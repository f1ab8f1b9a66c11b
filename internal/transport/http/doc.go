// Package http exposes the license authority over a chi router:
// validation, device binding, tier discovery, session token checks,
// the admin surface (issue, renew, revoke, audit) and the payment
// webhook. Responses are JSON; failures render RFC 7807 problems.
package http
