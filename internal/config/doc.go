// Package config loads the JSON startup configuration for the daemon,
// applies defaults for every subsystem, and resolves relative file paths
// against the configuration directory so the binary can run from any
// working directory.
package config
