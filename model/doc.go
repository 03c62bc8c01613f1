// Package model defines stable boundary types for callers of the service
// layer (the CLI's -json output and any API built on top).
//
// These structs are the only types intended for direct JSON serialization;
// their field names and order are part of the output contract.
package model
