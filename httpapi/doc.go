// Package httpapi is the reference HTTP transport for an authcore Engine.
//
// Routes live under /auth. The access token travels in JSON bodies and the
// Authorization header; the refresh token only ever travels in an HttpOnly,
// SameSite=Strict cookie scoped to /auth. Errors are rendered as
//
//	{"status":"error","code":"ACCOUNT_LOCKED","message":"...","retry_after_minutes":118}
//
// with messages from authcore.PublicMessage.
package httpapi
