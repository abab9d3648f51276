// Package installstate holds the authoritative per-app installation state.
package installstate

import "fmt"

// Status is the discriminator of an InstallState.
type Status string

const (
	StatusNotInstalled    Status = "not_installed"
	StatusInstalled       Status = "installed"
	StatusUpdateAvailable Status = "update_available"
	StatusDownloading     Status = "downloading"
	StatusInstalling      Status = "installing"
	StatusFailed          Status = "failed"
)

// UnknownVersion is reported for installed apps whose version cannot be read.
const UnknownVersion = "Unknown"

// InstallState is a tagged variant; only the fields belonging to Status are set.
// Values are comparable with ==.
type InstallState struct {
	Status           Status  `json:"status"`
	Version          string  `json:"version,omitempty"`
	InstalledVersion string  `json:"installedVersion,omitempty"`
	AvailableVersion string  `json:"availableVersion,omitempty"`
	Progress         float64 `json:"progress,omitempty"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
}

func NotInstalled() InstallState {
	return InstallState{Status: StatusNotInstalled}
}

func Installed(version string) InstallState {
	return InstallState{Status: StatusInstalled, Version: version}
}

func UpdateAvailable(installed, available string) InstallState {
	return InstallState{Status: StatusUpdateAvailable, InstalledVersion: installed, AvailableVersion: available}
}

// Downloading clamps progress into [0, 1].
func Downloading(progress float64) InstallState {
	switch {
	case progress < 0:
		progress = 0
	case progress > 1:
		progress = 1
	}

	return InstallState{Status: StatusDownloading, Progress: progress}
}

func Installing() InstallState {
	return InstallState{Status: StatusInstalling}
}

func Failed(message string) InstallState {
	return InstallState{Status: StatusFailed, ErrorMessage: message}
}

// InFlight reports whether an install attempt currently owns the state.
func (s InstallState) InFlight() bool {
	return s.Status == StatusDownloading || s.Status == StatusInstalling
}

// IsInstalled reports whether some version of the app is present locally.
func (s InstallState) IsInstalled() bool {
	return s.Status == StatusInstalled || s.Status == StatusUpdateAvailable
}

// Action is the primary user action offered for the state.
func (s InstallState) Action() string {
	switch s.Status {
	case StatusInstalled:
		return "Open"
	case StatusUpdateAvailable:
		return "Update"
	case StatusDownloading:
		return fmt.Sprintf("Downloading %d%%", int(s.Progress*100))
	case StatusInstalling:
		return "Installing..."
	case StatusFailed:
		return "Retry"
	default:
		return "Install"
	}
}

func (s InstallState) String() string {
	switch s.Status {
	case StatusInstalled:
		return fmt.Sprintf("installed (%s)", s.Version)
	case StatusUpdateAvailable:
		return fmt.Sprintf("update available (%s -> %s)", s.InstalledVersion, s.AvailableVersion)
	case StatusDownloading:
		return fmt.Sprintf("downloading (%d%%)", int(s.Progress*100))
	case StatusFailed:
		return fmt.Sprintf("failed: %s", s.ErrorMessage)
	case "":
		return string(StatusNotInstalled)
	default:
		return string(s.Status)
	}
}
