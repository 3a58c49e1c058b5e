// Package bridge mirrors configured devices into Home Assistant via
// MQTT discovery.
//
// Every entity gets a retained discovery config under the configured
// discovery prefix. State flows one way from coordinator updates into a
// per-device JSON state document that the entity value templates read;
// commands flow the other way from per-property command topics into the
// device layer. Availability is tracked per device plus one will-backed
// topic for the bridge process itself, so Home Assistant greys out
// everything when the bridge dies.
package bridge
