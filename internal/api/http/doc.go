// Package http exposes the block services over REST with gin.
//
// Every route under /block acts for the organisation named by the
// X-Organisation-ID header. Domain errors map to status codes in one place,
// see respondError.
package http
