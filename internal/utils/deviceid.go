package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// GetDeviceFingerprints returns hardware identifiers for the current machine.
// On mobile/web platforms these must be supplied by the host app.
func GetDeviceFingerprints() ([]string, error) {
	osName := runtime.GOOS
	switch osName {
	case "darwin":
		return getMacOSUUID()
	case "linux":
		return getLinuxUUID()
	case "windows":
		return getWindowsUUID()
	default:
		return nil, errors.New("unsupported platform: " + osName)
	}
}

// DeviceID is a stable, non-reversible tag for queued submissions. It falls
// back to the hostname when no hardware identifier is readable.
func DeviceID() string {
	src := ""
	if fps, err := GetDeviceFingerprints(); err == nil && len(fps) > 0 {
		src = fps[0]
	} else if host, err := os.Hostname(); err == nil {
		src = host
	}
	if src == "" {
		return "unknown"
	}
	sum := sha256.Sum256([]byte(src))
	return "dev-" + hex.EncodeToString(sum[:8])
}

func getMacOSUUID() ([]string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "IOPlatformUUID") {
			parts := strings.Split(line, "\"")
			if len(parts) >= 4 {
				ids = append(ids, parts[3])
			}
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no IOPlatformUUID found")
	}
	return ids, nil
}

func getLinuxUUID() ([]string, error) {
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id", "/sys/class/dmi/id/product_uuid"} {
		if b, err := os.ReadFile(p); err == nil {
			if id := strings.TrimSpace(string(b)); id != "" {
				return []string{id}, nil
			}
		}
	}
	// Raspberry Pi style boards expose a serial in cpuinfo
	if cpuinfo, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		for _, line := range strings.Split(string(cpuinfo), "\n") {
			if strings.HasPrefix(line, "Serial") {
				parts := strings.Split(line, ":")
				if len(parts) == 2 {
					if id := strings.TrimSpace(parts[1]); id != "" {
						return []string{id}, nil
					}
				}
			}
		}
	}
	return nil, errors.New("no hardware UUID found on Linux")
}

func getWindowsUUID() ([]string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err == nil {
		for _, line := range bytes.Split(out, []byte("\n")) {
			s := strings.TrimSpace(string(line))
			if s != "" && !strings.EqualFold(s, "UUID") {
				return []string{s}, nil
			}
		}
	}
	return nil, errors.New("no hardware UUID found on Windows")
}
