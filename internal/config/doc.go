// Package config manages the persistent device registry for miiobridge.
//
// The registry is a YAML file stored in the platform configuration
// directory (e.g. ~/.config/miiobridge/config.yaml on Linux). It holds one
// entry per configured miio device - host, token, model and the numeric
// device ID that serves as the unique identifier - plus application
// preferences such as the poll interval and the MQTT broker settings.
//
// Writes are atomic (temp file + rename) so a crash cannot corrupt the
// registry. The Xiaomi cloud account password is never persisted; only the
// account username and region are stored, and the password is prompted
// whenever a cloud operation needs it.
package config
