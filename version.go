package main

// version is overridable at build time via -ldflags
// "-X main.version=...".
var version = "dev"
