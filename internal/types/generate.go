// Package types holds the FlatBuffers wire types.
package types

//go:generate flatc --go --go-namespace types -o .. instruction.fbs snapshot.fbs
