// Package entity derives the Home Assistant entity set of a device from
// its descriptors.
//
// The mapping is mechanical: settable booleans become switches, settable
// enumerations become selects, settable ranges become numbers, read-only
// properties become sensors or binary sensors and actions become
// buttons. Device types with a whole-device representation (lights,
// fans, humidifiers, vacuums) additionally get one composite entity that
// consumes the standard properties, which are then excluded from the
// auxiliary set so no control appears twice.
package entity
