//go:build linux

package tray

import "github.com/biglietto/sealbridge/internal/bridge"

// TrayApp is a stub on Linux: systray needs a GTK main loop and most monitor
// deployments there are headless anyway.
type TrayApp struct{}

// New creates a new TrayApp instance
func New(serverAddr string, session *bridge.Session, onQuit func()) *TrayApp {
	return &TrayApp{}
}

// Run is a no-op on Linux.
func (t *TrayApp) Run() {}

// RunWithServer just runs the server on the calling goroutine.
func (t *TrayApp) RunWithServer(serverStart func()) {
	if serverStart != nil {
		serverStart()
	}
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return false
}
