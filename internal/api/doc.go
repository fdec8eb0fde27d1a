// Package api serves the ribooster portal backup endpoints under /api. All
// routes there require a bearer token carrying the caller's organization,
// company and user.
package api
