// Package logger builds the process-wide structured logger. Output is text in
// development and JSON in production, optionally teed into a log file so a
// monitor running unattended keeps a record of samples and alerts.
package logger
