// Package logging provides file-based structured logging with rotation.
// Logs are JSON lines written to ~/.suggest/logs/suggest.log. With --debug
// the same stream is mirrored to stderr at debug level.
package logging
