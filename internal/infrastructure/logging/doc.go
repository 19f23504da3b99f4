// Package logging builds the zap logger shared by the bridge and vboxctl:
// JSON in production, colored console output with --dev.
//
// Components receive a named child logger:
//
//	logger, _ := logging.New(logging.Config{Level: "info"})
//	d := dispatch.New(sessionID, table, transport, cache.New(),
//		dispatch.WithLogger(logger.Component("dispatch")))
package logging
