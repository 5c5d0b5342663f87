//go:build wasm

package driverloader

import "errors"

var errNoLoader = errors.New("dynamic loading is unavailable on this platform")

func dlopen(name string) (uintptr, error)                  { return 0, errNoLoader }
func dlsym(handle uintptr, symbol string) (uintptr, error) { return 0, errNoLoader }
func dlclose(handle uintptr) error                         { return nil }
