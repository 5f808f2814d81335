// Package transfer streams media files to disk with cooperative cancellation
// and gates progress forwarding to bound notification churn.
package transfer
