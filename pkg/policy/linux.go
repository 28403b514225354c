package policy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/droidpipe/agent/internal/config"
	"github.com/droidpipe/agent/pkg/logger"
	"github.com/droidpipe/agent/pkg/utils"
)

type LinuxPolicy struct {
	serviceName string
	binaryPath  string
}

func NewLinuxPolicy(cfg *config.Config) *LinuxPolicy {
	return &LinuxPolicy{
		serviceName: cfg.ServiceName(),
		binaryPath:  cfg.BinaryPath(),
	}
}

func (p *LinuxPolicy) ConfigureAutoStart() error {
	unitPath := filepath.Join(
		"/etc/systemd/system",
		p.serviceName+".service",
	)

	unit := `[Unit]
Description=DroidPipe Transfer Agent
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=` + p.binaryPath + ` serve
Restart=always
RestartSec=5
KillSignal=SIGTERM
TimeoutStopSec=30
LimitNOFILE=65536
NoNewPrivileges=true
ProtectSystem=full

[Install]
WantedBy=multi-user.target
`
	if err := os.WriteFile(unitPath, []byte(unit), 0644); err != nil {
		return err
	}
	_, _ = utils.RunCommand(context.Background(), "systemctl", "daemon-reexec")
	_, _ = utils.RunCommand(context.Background(), "systemctl", "enable", p.serviceName)
	logger.Log.Info("systemd unit installed")
	return nil
}

func (p *LinuxPolicy) ConfigureRestartPolicy() error {
	logger.Log.Info("systemd restart policy enforced via unit")
	return nil
}
