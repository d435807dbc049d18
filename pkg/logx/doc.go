// Package logx provides relaybot's structured logging facade on top of
// zerolog.
//
// Components hold a logx.Logger value; the Service behind it can swap sinks
// and levels at runtime (config reload) without re-plumbing loggers through
// the object graph. The zero Logger is a safe no-op, so optional logging
// never needs nil checks.
package logx
