// Package miio implements the local device access layer.
//
// A Client owns one UDP socket per device and speaks the encrypted miio
// request/response protocol, delegating packet framing and crypto to
// github.com/nickw444/miio-go. A Device layers the typed operations on
// top: identity via miIO.info, batched status polls over the readable
// descriptors, validated property writes and action calls.
//
// Errors are classified into DeviceError categories so callers can tell
// a wrong token (checksum failure) from an offline device (timeout) and
// retry the vendor firmware's transient error codes.
package miio
