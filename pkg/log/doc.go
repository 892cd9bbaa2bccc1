// Package log provides a logging abstraction for listycity components.
//
// This package defines a Logger interface that can be implemented by
// any logging library. Default implementations are provided for zerolog
// and a no-op logger for embedding without output.
//
// # Usage
//
// Use the provided zerolog adapter:
//
//	logger, err := log.NewZerologAdapterWithLevel("debug")
//
// Or use the no-op logger:
//
//	logger := log.NewNoopLogger()
//
// Components scope their output with With:
//
//	syncLog := log.With(logger, log.String("component", "synchronizer"))
package log
