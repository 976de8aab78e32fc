//go:build !linux

package tray

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/biglietto/sealbridge/internal/api"
	"github.com/biglietto/sealbridge/internal/bridge"
	"github.com/biglietto/sealbridge/internal/status"
	"github.com/getlantern/systray"
)

// TrayApp shows the bridge session state in the system tray so box-office
// operators can see seal readiness without opening the status page.
type TrayApp struct {
	serverAddr string
	session    *bridge.Session
	onQuit     func()
	mu         sync.Mutex

	// Menu items for updating
	mRelay  *systray.MenuItem
	mBridge *systray.MenuItem
	mReader *systray.MenuItem
	mCard   *systray.MenuItem
	mSeals  *systray.MenuItem
}

// New creates a new TrayApp instance
func New(serverAddr string, session *bridge.Session, onQuit func()) *TrayApp {
	return &TrayApp{
		serverAddr: serverAddr,
		session:    session,
		onQuit:     onQuit,
	}
}

// Run starts the system tray. This function blocks until the tray is closed.
func (t *TrayApp) Run() {
	systray.Run(t.onReady, t.onExit)
}

// RunWithServer runs the tray on the main thread and starts the server in a goroutine.
// This function BLOCKS - it must be called from the main goroutine on macOS.
func (t *TrayApp) RunWithServer(serverStart func()) {
	systray.Run(func() {
		t.onReady()
		if serverStart != nil {
			go serverStart()
		}
	}, t.onExit)
}

func (t *TrayApp) onReady() {
	systray.SetTitle("SIAE")
	systray.SetTooltip("Seal Bridge Monitor")

	// Version header (disabled, just for display)
	// Only add "v" prefix for proper version numbers (e.g., "1.2.3"), not for dev builds
	versionStr := api.Version
	if len(versionStr) > 0 && versionStr[0] >= '0' && versionStr[0] <= '9' {
		versionStr = "v" + versionStr
	}
	mVersion := systray.AddMenuItem(fmt.Sprintf("Seal Bridge Monitor %s", versionStr), "")
	mVersion.Disable()

	systray.AddSeparator()

	t.mRelay = systray.AddMenuItem("Relay: connecting...", "Relay channel state")
	t.mRelay.Disable()
	t.mBridge = systray.AddMenuItem("Bridge: unknown", "Desktop bridge link")
	t.mBridge.Disable()
	t.mReader = systray.AddMenuItem("Reader: unknown", "Smart card reader")
	t.mReader.Disable()
	t.mCard = systray.AddMenuItem("Card: unknown", "SIAE card presence")
	t.mCard.Disable()
	t.mSeals = systray.AddMenuItem("Seals: not ready", "Real seal emission readiness")
	t.mSeals.Disable()

	systray.AddSeparator()

	// Open status page
	mOpenUI := systray.AddMenuItem("Open Status Page", "Open web UI in browser")

	systray.AddSeparator()

	// Quit
	mQuit := systray.AddMenuItem("Quit", "Exit Seal Bridge Monitor")

	// Live status lines
	t.session.Subscribe(func(snap status.DeviceStatus) {
		t.updateStatus(snap)
	})

	// Handle menu clicks
	go func() {
		for {
			select {
			case <-mOpenUI.ClickedCh:
				t.openBrowser(fmt.Sprintf("http://%s/v1/status", t.serverAddr))
			case <-mQuit.ClickedCh:
				systray.Quit()
			}
		}
	}()
}

func (t *TrayApp) onExit() {
	if t.onQuit != nil {
		t.onQuit()
	}
}

// updateStatus refreshes the status lines from a snapshot.
func (t *TrayApp) updateStatus(snap status.DeviceStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mRelay == nil {
		return
	}

	t.mRelay.SetTitle("Relay: " + onOff(snap.RelayConnected, "connected", "disconnected"))
	t.mBridge.SetTitle("Bridge: " + onOff(snap.BridgeConnected, "connected", "not running"))
	if snap.ReaderDetected && snap.ReaderName != "" {
		t.mReader.SetTitle("Reader: " + snap.ReaderName)
	} else {
		t.mReader.SetTitle("Reader: " + onOff(snap.ReaderDetected, "detected", "not detected"))
	}
	t.mCard.SetTitle("Card: " + onOff(snap.CardInserted, "inserted", "not inserted"))

	switch {
	case snap.DemoMode:
		t.mSeals.SetTitle("Seals: demo mode")
	case snap.CanEmitRealSeals:
		t.mSeals.SetTitle("Seals: ready")
	default:
		t.mSeals.SetTitle("Seals: not ready")
	}
}

func onOff(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

func (t *TrayApp) openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	cmd.Start()
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return true
}
