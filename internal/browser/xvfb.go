package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// xvfbReady bounds the wait for the display socket.
const xvfbReady = 3 * time.Second

// xvfbSocket returns the X socket of display ":N" or ":N.S".
func xvfbSocket(display string) (string, error) {
	n, ok := strings.CutPrefix(display, ":")
	if !ok || n == "" {
		return "", fmt.Errorf("bad display %q", display)
	}
	n, _, _ = strings.Cut(n, ".")
	return "/tmp/.X11-unix/X" + n, nil
}

// startXvfb runs a virtual display for headful mode and waits until it
// accepts connections.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	sock, err := xvfbSocket(m.cfg.XvfbDisplay)
	if err != nil {
		return err
	}
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	m.xvfb = cmd

	deadline := time.Now().Add(xvfbReady)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			m.stopXvfb()
			return errors.New("display never came up on " + sock)
		}
		time.Sleep(50 * time.Millisecond)
	}
	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if p := m.xvfb.Process; p != nil {
		if err := p.Kill(); err != nil {
			m.cfg.Logger.Debug("browser: kill xvfb", "error", err)
		}
		_ = m.xvfb.Wait()
	}
	m.xvfb = nil
	m.cfg.Logger.Info("browser: xvfb stopped")
}
