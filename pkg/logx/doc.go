// Package logx is msgnotify's structured logger, a thin layer over zerolog.
//
// Console output is human readable with a short caller; the optional file
// sink is JSON lines. A Service owns the sinks so level and outputs can be
// swapped on config reload without re-plumbing loggers already handed out.
//
// Message senders are personal data: log them with Addr, which keeps only
// the last few characters.
package logx
