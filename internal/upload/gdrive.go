package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"mediabot/internal/config"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// GDriveTarget uploads packages into a Google Drive folder, mirroring the
// package directory structure as nested folders.
type GDriveTarget struct {
	drive    *drive.Service
	folderID string
	logger   *slog.Logger
}

// NewGDriveTarget creates a Drive target using application default
// credentials.
func NewGDriveTarget(ctx context.Context, folderID string, logger *slog.Logger) (*GDriveTarget, error) {
	if logger == nil {
		logger = slog.Default()
	}
	credentials, err := google.FindDefaultCredentials(ctx, config.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to find default credentials: %w", err)
	}
	service, err := drive.NewService(ctx, option.WithCredentials(credentials))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	logger.Info("Google Drive upload target initialized", "folder_id", folderID)
	return &GDriveTarget{drive: service, folderID: folderID, logger: logger}, nil
}

// NewGDriveTargetWithService creates a Drive target around an existing
// service (for testing).
func NewGDriveTargetWithService(service *drive.Service, folderID string, logger *slog.Logger) *GDriveTarget {
	if logger == nil {
		logger = slog.Default()
	}
	return &GDriveTarget{drive: service, folderID: folderID, logger: logger}
}

func (g *GDriveTarget) Name() string { return "gdrive" }

func (g *GDriveTarget) Upload(ctx context.Context, packageDir, jobID string) (*TargetResult, error) {
	files, err := packageFiles(packageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate package: %w", err)
	}

	rootFolder, err := g.createFolder(ctx, jobID, g.folderID)
	if err != nil {
		return nil, err
	}

	// Subfolders (Samples/) are created lazily per relative directory.
	folders := map[string]string{".": rootFolder}

	result := &TargetResult{RemoteLocation: "gdrive://" + rootFolder}
	for _, rel := range files {
		dir := filepath.Dir(rel)
		parent, ok := folders[dir]
		if !ok {
			parent, err = g.createFolder(ctx, filepath.Base(dir), rootFolder)
			if err != nil {
				return nil, err
			}
			folders[dir] = parent
		}

		local := filepath.Join(packageDir, rel)
		uploaded, err := g.uploadFile(ctx, local, filepath.Base(rel), parent)
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(local)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", local, err)
		}
		result.PerFile = append(result.PerFile, UploadedFile{
			Filename:   filepath.ToSlash(rel),
			RemotePath: path.Join(jobID, filepath.ToSlash(rel)),
			Size:       info.Size(),
			ETag:       uploaded,
		})
	}

	g.logger.Info("package uploaded to Drive", "job_id", jobID, "folder_id", rootFolder, "files", len(result.PerFile))
	return result, nil
}

func (g *GDriveTarget) createFolder(ctx context.Context, name, parent string) (string, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
	}
	if parent != "" {
		meta.Parents = []string{parent}
	}
	folder, err := g.drive.Files.Create(meta).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create Drive folder %s: %w", name, err)
	}
	return folder.Id, nil
}

func (g *GDriveTarget) uploadFile(ctx context.Context, localPath, filename, parent string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	meta := &drive.File{Name: filename, Parents: []string{parent}}
	created, err := g.drive.Files.Create(meta).Media(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	return created.Id, nil
}

func (g *GDriveTarget) HealthCheck(ctx context.Context) bool {
	_, err := g.drive.About.Get().Fields("user").Context(ctx).Do()
	return err == nil
}
