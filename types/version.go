package types

// Version is the canonical project version.
// The CLI, the sandbox wire protocol and the journal record format share
// this version.
const Version = "0.4.0"

// WireVersion is the sandbox wire protocol version. It moves in lockstep
// with Version.
const WireVersion = Version
