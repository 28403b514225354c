package models

// Message types pushed to connected presentation layers.
const (
	MsgTransferProgress  = "transfer_progress"
	MsgTransferState     = "transfer_state"
	MsgTransferTerminal  = "transfer_terminal"
	MsgDirectorySnapshot = "directory_snapshot"
	MsgAgentStatus       = "agent_status"
	MsgError             = "error"
)

// Message types accepted from presentation layers.
const (
	MsgTransferStart  = "transfer_start"
	MsgTransferCancel = "transfer_cancel"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// TransferRequest is the payload of a transfer_start message.
type TransferRequest struct {
	Direction  Direction `json:"direction"`
	LocalPath  string    `json:"local_path"`
	RemotePath string    `json:"remote_path,omitempty"`
}
