// Package cloud wraps the Xiaomi cloud API client.
//
// The cloud is used for setup, never for steady-state control: it
// enumerates the devices registered to an account together with their
// local tokens, and serves the MiOT spec documents the descriptor layer
// parses. Once a device is configured, all control runs over the local
// protocol.
//
// Session tokens are cached under the config directory so repeat logins
// skip the password prompt. Account passwords are never stored.
package cloud
