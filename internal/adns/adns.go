// Package adns contains common entities and interfaces of AmberDNS.
//
// The types here are pure values: they carry no behavior besides validation
// and representation.  Storage lives in package configstore; resolution logic,
// in the engine packages.
package adns

// unit is a convenient alias for struct{}.
type unit = struct{}
