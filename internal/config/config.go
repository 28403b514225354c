package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds agent configuration. Fields are unexported to prevent modification.
type Config struct {
	adbPath            string
	pvPath             string
	tarPath            string
	deviceRoot         string
	localRoot          string
	listenAddr         string
	logFile            string
	serviceName        string
	serviceDisplayName string
	serviceDescription string
	binaryPath         string
	speedWindow        time.Duration
	cancelGrace        time.Duration
	statusInterval     time.Duration
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSecondsOr(key string, fallback time.Duration) time.Duration {
	sec, err := strconv.Atoi(os.Getenv(key))
	if err != nil || sec <= 0 {
		return fallback
	}
	return time.Duration(sec) * time.Second
}

func defaultLocalRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "DroidPipe"
	}
	return filepath.Join(home, "DroidPipe")
}

func defaultBinaryPath() string {
	path, err := os.Executable()
	if err != nil {
		return ""
	}
	return path
}

func New() *Config {
	_ = godotenv.Load() // ignore error if .env not found

	grace := 2 * time.Second
	if ms, err := strconv.Atoi(os.Getenv("CANCEL_GRACE_MS")); err == nil && ms > 0 {
		grace = time.Duration(ms) * time.Millisecond
	}

	cfg := &Config{
		adbPath:            envOr("ADB_PATH", "adb"),
		pvPath:             envOr("PV_PATH", "pv"),
		tarPath:            envOr("TAR_PATH", "tar"),
		deviceRoot:         envOr("DEVICE_TRANSFER_ROOT", "/sdcard/Transfer"),
		localRoot:          envOr("LOCAL_TRANSFER_ROOT", defaultLocalRoot()),
		listenAddr:         envOr("LISTEN_ADDR", "127.0.0.1:7317"),
		logFile:            envOr("LOG_FILE", "droidpipe.log"),
		serviceName:        envOr("SERVICE_NAME", "DroidPipe"),
		serviceDisplayName: envOr("SERVICE_DISPLAY_NAME", "DroidPipe Transfer Agent"),
		serviceDescription: envOr("SERVICE_DESCRIPTION", "Streams directory trees between an Android device and this host over adb"),
		speedWindow:        envSecondsOr("SPEED_WINDOW_SEC", 5*time.Second),
		cancelGrace:        grace,
		statusInterval:     envSecondsOr("STATUS_INTERVAL_SEC", 10*time.Second),
	}
	cfg.binaryPath = defaultBinaryPath()
	return cfg
}

// Getter methods (immutable from outside)

func (c *Config) AdbPath() string {
	return c.adbPath
}

func (c *Config) PvPath() string {
	return c.pvPath
}

func (c *Config) TarPath() string {
	return c.tarPath
}

// DeviceRoot is the fixed transfer directory on the device. It is created
// when missing and never deleted by the agent.
func (c *Config) DeviceRoot() string {
	return c.deviceRoot
}

// LocalRoot is the host-side transfer directory: watched in serve mode
// and used as the default pull destination.
func (c *Config) LocalRoot() string {
	return c.localRoot
}

func (c *Config) ListenAddr() string {
	return c.listenAddr
}

func (c *Config) LogFile() string {
	return c.logFile
}

func (c *Config) ServiceName() string {
	return c.serviceName
}

func (c *Config) ServiceDisplayName() string {
	return c.serviceDisplayName
}

func (c *Config) ServiceDescription() string {
	return c.serviceDescription
}

func (c *Config) BinaryPath() string {
	return c.binaryPath
}

// SpeedWindow bounds the sample window used for smoothed throughput.
func (c *Config) SpeedWindow() time.Duration {
	return c.speedWindow
}

// CancelGrace is how long stages get to exit after SIGTERM before they
// are killed.
func (c *Config) CancelGrace() time.Duration {
	return c.cancelGrace
}

func (c *Config) StatusInterval() time.Duration {
	return c.statusInterval
}

// SetToolPaths overrides the external tool binaries. Tests point these at
// fake stage executables.
func (c *Config) SetToolPaths(adb, pv, tar string) {
	if adb != "" {
		c.adbPath = adb
	}
	if pv != "" {
		c.pvPath = pv
	}
	if tar != "" {
		c.tarPath = tar
	}
}
