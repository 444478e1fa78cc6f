// Package server hosts the Fiber HTTP service that exposes cached, downsampled
// images over GET /image. The router resolves query parameters and presets into
// an ImageRequest, attaches request IDs and panic recovery, and hands the
// request to an injected ImageHandler so tests can swap in recorders. The
// diagnostics surface (/-/health, /-/presets, /-/metrics) lives in the routes
// subpackage and only depends on the exported registry and options here.
package server
