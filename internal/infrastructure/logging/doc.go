// Package logging sets up the bridge's structured log output on top of
// log/slog.
//
// Records are JSON by default and text when logging.format is "text". The
// level comes from logging.level (debug, info, warn, error) and the
// destination from logging.output (stdout or stderr):
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("opc ua session established", "endpoint", cfg.OPCUA.Endpoint)
//
// Components derive child loggers with With or ForDevice. Shared access
// keys and SAS tokens are never logged; log the hub host name and device
// id instead.
package logging
