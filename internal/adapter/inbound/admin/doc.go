// Package admin serves the operational endpoints of a pyx instance on a
// separate listener: /health, /metrics and /access/recent.
//
// The admin listener uses net/http. It never shares a port with the
// HTTP/1.1 engine it reports on.
package admin
