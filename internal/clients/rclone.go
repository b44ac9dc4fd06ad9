package clients

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Rclone invokes the rclone binary for Google Drive copies. Each copy is a
// single blocking subprocess; cancellation kills the process via ctx.
type Rclone struct {
	binary     string
	configPath string
	remote     string
}

func NewRclone(binary, configPath, remote string) *Rclone {
	if binary == "" {
		binary = "rclone"
	}
	return &Rclone{binary: binary, configPath: configPath, remote: remote}
}

func (r *Rclone) run(ctx context.Context, args ...string) error {
	if r.configPath != "" {
		args = append([]string{"--config", r.configPath}, args...)
	}
	cmd := exec.CommandContext(ctx, r.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rclone %s failed: %w: %s", args[len(args)-1], err,
			strings.TrimSpace(string(output)))
	}
	return nil
}

// CopyFile fetches a single Drive file by id into outputDir.
func (r *Rclone) CopyFile(ctx context.Context, fileID, outputDir string) error {
	return r.run(ctx, "backend", "copyid", r.remote+":", fileID, outputDir+"/")
}

// CopyFolder fetches an entire Drive folder by id into outputDir.
func (r *Rclone) CopyFolder(ctx context.Context, folderID, outputDir string) error {
	remote := fmt.Sprintf("%s,root_folder_id=%s:", r.remote, folderID)
	return r.run(ctx, "copy", remote, outputDir)
}

func (r *Rclone) Health(ctx context.Context) error {
	return r.run(ctx, "version")
}
