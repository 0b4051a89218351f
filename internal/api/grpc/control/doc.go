// Package control implements the gRPC transport that drives a running kiosk:
// start it, suspend it and read its state.
//
// The service kiosk.v1.ControlService is built on protobuf well-known types
// only, so it needs no generated code: the service descriptor is declared in
// this package and the client uses plain unary invocations.
package control
