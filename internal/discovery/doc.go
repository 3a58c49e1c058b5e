// Package discovery finds miio devices on the local network.
//
// Two mechanisms are provided. The Scanner browses for the "_miio._udp"
// mDNS service and decodes the model and device ID from the announced
// hostname; this is the richer source since it identifies the model
// without needing a token. The Prober broadcasts a protocol hello packet
// and collects the unencrypted replies; it catches devices whose mDNS
// announcement is disabled or filtered, but learns only the device ID
// and address.
//
// Neither mechanism requires a token. Discovery results feed the setup
// wizard, which pairs each found device with its token before anything
// is saved.
package discovery
