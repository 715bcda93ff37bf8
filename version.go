package csentryweb

// Version is the release version, overridable at build time through ldflags.
var Version = "0.1.0"
