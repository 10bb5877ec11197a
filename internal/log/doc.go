// Package log provides the leveled logging backend shared by the
// servers and the client engine, built on go-logging. A Backend is created
// once per process and hands out per-module loggers via GetLogger.
package log
