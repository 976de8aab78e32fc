package service

import "errors"

// Errors shared by the platform implementations.
var (
	ErrAlreadyInstalled = errors.New("service is already installed")
	ErrNotInstalled     = errors.New("service is not installed")
	ErrUnsupported      = errors.New("autostart is not supported on this platform")
)

// Service manages the monitor's autostart registration on the host.
type Service interface {
	Install() error
	Uninstall() error
	IsInstalled() bool
	Status() (string, error)
}
