package galmirror

// Version is the service version reported by the status surface. Overridden
// at build time via -ldflags "-X github.com/sunpetal/galmirror.Version=...".
var Version = "0.0.0-dev"
