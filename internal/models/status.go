package models

// AgentStatus is broadcast periodically while the agent is serving.
type AgentStatus struct {
	AgentID     string  `json:"agent_id"`
	Hostname    string  `json:"hostname"`
	OS          string  `json:"os"`
	Uptime      uint64  `json:"uptime"`
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	DiskUsage   float64 `json:"disk_usage"`
	DiskFree    uint64  `json:"disk_free"`
	Timestamp   int64   `json:"timestamp,omitempty"`
}

type DirectorySnapshot struct {
	AgentID   string        `json:"agent_id"`
	Timestamp string        `json:"timestamp"`
	Directory DirectoryInfo `json:"directory"`
}

type DirectoryInfo struct {
	Files      []FileInfo `json:"files"`
	TotalFiles int        `json:"total_files"`
	TotalSize  int64      `json:"total_size"`
}

type FileInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
	Type     string `json:"type"`
}
