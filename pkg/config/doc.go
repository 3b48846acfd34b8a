// Package config reads the controller's process configuration from the
// environment, with a .env overlay and defaults for every knob.
package config
