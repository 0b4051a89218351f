// Package logger wraps zap for the kiosk binaries:
//   - a global sugared logger with a console encoder and an optional rotated file sink,
//   - context helpers (ToContext/FromContext/WithName/WithKV) so every service logs with its scope,
//   - level parsing and runtime level changes.
package logger
