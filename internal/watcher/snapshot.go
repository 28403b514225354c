package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/pkg/logger"
)

// Snapshot recursively scans root and returns its file listing for the
// presentation layer.
func Snapshot(agentID, root string) (models.DirectorySnapshot, error) {
	var files []models.FileInfo
	var totalSize int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			logger.Log.Warn("error accessing path", "path", path, "err", err)
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			relPath = path
		}
		if relPath == "." {
			return nil
		}
		fileInfo := models.FileInfo{
			Name:     info.Name(),
			Path:     relPath,
			Size:     info.Size(),
			Modified: info.ModTime().Format(time.RFC3339),
		}
		if info.IsDir() {
			fileInfo.Type = "directory"
		} else {
			fileInfo.Type = "file"
			totalSize += info.Size()
		}
		files = append(files, fileInfo)
		return nil
	})
	if err != nil {
		return models.DirectorySnapshot{}, err
	}
	fileCount := 0
	for _, f := range files {
		if f.Type == "file" {
			fileCount++
		}
	}
	return models.DirectorySnapshot{
		AgentID:   agentID,
		Timestamp: time.Now().Format(time.RFC3339),
		Directory: models.DirectoryInfo{
			Files:      files,
			TotalFiles: fileCount,
			TotalSize:  totalSize,
		},
	}, nil
}
