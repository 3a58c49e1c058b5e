// Package tui implements the interactive setup wizard.
//
// The wizard adds miio devices to the configuration registry through
// three flows that all converge on the same verification step:
//
//   - Xiaomi cloud: log into the account, pick a device from the list;
//     host and token come from the cloud inventory. Devices that are
//     already configured and child devices behind a gateway are
//     filtered out. A single remaining device is selected
//     automatically.
//   - Manual entry: type the IP address and the 32-character hex token.
//   - Network discovery: browse mDNS and broadcast hello packets, pick
//     a device, then enter its token (discovery cannot reveal tokens).
//
// Verification performs a handshake and a miIO.info call. A checksum
// failure is reported as a wrong token. When the call succeeds the
// reported model overrides whatever was known before; when it fails but
// a model is already known from the cloud or mDNS, that model is kept.
// The verified entry is persisted and the user can add another device
// or leave.
//
// The account password exists only in process memory for the duration
// of the login; it is never written to the registry or anywhere else.
package tui
