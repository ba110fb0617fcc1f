// Package logging is the bridge's thin layer over log/slog.
//
// Every package logs through the Logger returned by New, so records
// share one shape: the configured handler (JSON in production, text
// when developing), level filtering, and the service and version
// attributes stamped on each entry.
//
// The logging section of config.yaml selects level, format, and
// destination:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Typical use:
//
//	log := logging.New(cfg.Logging, version)
//	hubLog := log.With("component", "leap")
//	hubLog.Info("connected", "host", cfg.Hub.Host)
//
// Never log secrets: broker passwords and hub key material stay out of
// log fields.
package logging
