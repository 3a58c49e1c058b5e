// Package descriptor models the sensor/setting/action metadata of a miio
// device.
//
// A Collection is built once per device model by parsing its MiOT spec
// document and is read-only afterwards. Descriptors carry everything the
// entity layer needs to mirror a device attribute into Home Assistant:
// identity (siid/piid), value format, access flags, unit and range or
// choice constraints. The bridge never invents metadata - whatever the
// spec document declares is what gets exposed.
package descriptor
