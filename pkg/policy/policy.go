package policy

import (
	"fmt"
	"runtime"

	"github.com/droidpipe/agent/internal/config"
)

// ServicePolicy applies the platform-specific bits kardianos does not
// cover: boot-time auto-start and crash restart behavior.
type ServicePolicy interface {
	ConfigureAutoStart() error
	ConfigureRestartPolicy() error
}

func NewServicePolicy(cfg *config.Config) (ServicePolicy, error) {
	switch runtime.GOOS {
	case "windows":
		return NewWindowsPolicy(cfg), nil
	case "linux":
		return NewLinuxPolicy(cfg), nil
	case "darwin":
		return NewDarwinPolicy(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}
