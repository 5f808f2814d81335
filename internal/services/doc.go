// Package services defines the error taxonomy shared by the download
// pipeline and the context annotations used for structured logging.
package services
