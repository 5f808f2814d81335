// Command flixor is the command-line entry point for the offline download
// manager: it runs the daemon in the foreground and drives a running daemon
// over its local control API.
package main
