/*
Package config is Flux's YAML-backed configuration. Load reads a file and
overlays it onto Default(), so a deployment only needs to specify the
values it wants to change.
*/
package config
