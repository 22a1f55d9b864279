// Package app resolves the OS-appropriate config base, download directory,
// and sidecar-binary search paths the runtime needs at startup.
package app

import (
	"os"
	"path/filepath"
	"runtime"

	"kingo/internal/constants"
)

// DevMode is set at build time via ldflags to isolate dev environment from
// production. Example: -ldflags "-X 'kingo/internal/app.DevMode=true'"
var DevMode string = "false"

func appDirName() string {
	if DevMode == "true" {
		return constants.AppName + "-dev"
	}
	return constants.AppName
}

// Paths holds every OS-resolved directory the runtime needs.
type Paths struct {
	AppData   string // config base / <app>: settings.json, pending_downloads.json, download_history.json
	Bin       string // config base / <app>/bin: yt-dlp, ffmpeg fallback location
	Downloads string // default download directory
	ExeDir    string // directory the executable lives in, for sidecar detection
}

// GetPaths resolves Paths for the current OS.
func GetPaths() (*Paths, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}

	appData := filepath.Join(configDir, appDirName())
	bin := filepath.Join(appData, "bin")

	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	var downloads string
	switch runtime.GOOS {
	case "darwin":
		downloads = filepath.Join(homeDir, "Movies", constants.AppName)
	default:
		downloads = filepath.Join(homeDir, "Videos", constants.AppName)
	}

	return &Paths{
		AppData:   appData,
		Bin:       bin,
		Downloads: downloads,
		ExeDir:    exeDir,
	}, nil
}

// EnsureDirectories creates every directory Paths names, if absent.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.AppData, p.Bin, p.Downloads} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// getSidecarPaths returns all possible sidecar locations for the current OS.
// Returns paths in priority order (first match wins).
//
// Sidecar binaries are pre-bundled executables that ship with the installer:
//   - Windows NSIS: Binaries are in ExeDir/bin/ (e.g., C:\Program Files\Kingo\bin\ffmpeg.exe)
//   - macOS App Bundle: Binaries are in .app/Contents/Resources/bin/
//     The executable is in .app/Contents/MacOS/, so we go up two levels to Resources
//   - Linux AppImage: Binaries are in the same directory as the executable (usr/bin/)
func (p *Paths) getSidecarPaths(binaryName string) []string {
	var paths []string

	switch runtime.GOOS {
	case "windows":
		// Windows NSIS: Binários em ExeDir/bin/
		paths = append(paths, filepath.Join(p.ExeDir, "bin", binaryName))

	case "darwin":
		// macOS App Bundle: Binários em .app/Contents/Resources/bin/
		// O executável fica em .app/Contents/MacOS/, então subimos dois níveis
		resourcesDir := filepath.Join(p.ExeDir, "..", "Resources", "bin")
		paths = append(paths, filepath.Join(resourcesDir, binaryName))
		// Fallback: ao lado do executável (dev mode)
		paths = append(paths, filepath.Join(p.ExeDir, binaryName))

	default: // Linux
		// AppImage: Binários no mesmo diretório do executável (usr/bin/)
		paths = append(paths, filepath.Join(p.ExeDir, binaryName))
		// Fallback: subdiretório bin
		paths = append(paths, filepath.Join(p.ExeDir, "bin", binaryName))
	}

	return paths
}

// getBinaryPath returns the path to a binary, checking sidecar locations first
func (p *Paths) getBinaryPath(binaryName string) string {
	// Priority 1: Sidecar (binários empacotados no instalador/bundle/AppImage)
	for _, sidecarPath := range p.getSidecarPaths(binaryName) {
		if fileExists(sidecarPath) {
			return sidecarPath
		}
	}

	// Priority 2: AppData (binários baixados em runtime - fallback)
	return filepath.Join(p.Bin, binaryName)
}

// fileExists verifica se um arquivo existe e tem tamanho > 0
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// YtDlpPath returns the full path to yt-dlp executable
// Checks sidecar location first, then AppData
func (p *Paths) YtDlpPath() string {
	if runtime.GOOS == "windows" {
		return p.getBinaryPath("yt-dlp.exe")
	}
	return p.getBinaryPath("yt-dlp")
}

// FFmpegPath returns the full path to ffmpeg executable
// Checks sidecar location first, then AppData
func (p *Paths) FFmpegPath() string {
	if runtime.GOOS == "windows" {
		return p.getBinaryPath("ffmpeg.exe")
	}
	return p.getBinaryPath("ffmpeg")
}

