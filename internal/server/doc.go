// Package server hosts the Fiber HTTP dispatcher (spec.md §4.6), the shared
// upstream HTTP client tuning, and the route handlers that turn Store
// Gateway / Pull-Through Fetcher results into the five wire responses this
// binary-cache protocol defines, plus the /-/health diagnostics route.
package server
