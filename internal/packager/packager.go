package packager

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mediabot/internal/errs"
)

// FileType categorizes a packaged file in the manifest.
type FileType string

const (
	TypeVideo    FileType = "video"
	TypeAudio    FileType = "audio"
	TypeSubtitle FileType = "subtitle"
	TypeSample   FileType = "sample"
	TypeNFO      FileType = "nfo"
	TypeOther    FileType = "other"
)

// FileSet is the categorized input to one package run.
type FileSet struct {
	Video     string
	Audios    []string
	Subtitles []string
	Samples   []string
}

// ManifestFile describes one packaged file with its digests.
type ManifestFile struct {
	Filename string   `json:"filename"`
	Size     int64    `json:"size"`
	MD5      string   `json:"md5"`
	SHA256   string   `json:"sha256"`
	Type     FileType `json:"type"`
}

// Manifest is the integrity document written as manifest.json.
type Manifest struct {
	JobID     string            `json:"jobId"`
	CreatedAt time.Time         `json:"createdAt"`
	Files     []ManifestFile    `json:"files"`
	TotalSize int64             `json:"totalSize"`
	Metadata  map[string]string `json:"metadata"`
}

// ManifestName is the fixed manifest filename inside a package directory.
const ManifestName = "manifest.json"

// SamplesDir is the subdirectory sample clips are placed under.
const SamplesDir = "Samples"

// Packager assembles processed outputs into a package directory with an
// integrity manifest.
type Packager struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{logger: logger}
}

// Package moves the file set into <outputRoot>/<jobID>/, hashes every file
// and writes manifest.json. Any move or hash failure aborts; files already
// moved stay in place.
func (p *Packager) Package(ctx context.Context, jobID string, files FileSet, outputRoot string, metadata map[string]string) (*Manifest, string, error) {
	packageDir := filepath.Join(outputRoot, jobID)
	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return nil, "", errs.Wrap(errs.KindPackage, err, "failed to create package directory")
	}

	manifest := &Manifest{
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	if manifest.Metadata == nil {
		manifest.Metadata = map[string]string{}
	}

	type entry struct {
		src      string
		relName  string
		fileType FileType
	}
	var entries []entry
	if files.Video != "" {
		entries = append(entries, entry{files.Video, filepath.Base(files.Video), TypeVideo})
	}
	for _, path := range files.Audios {
		entries = append(entries, entry{path, filepath.Base(path), TypeAudio})
	}
	for _, path := range files.Subtitles {
		entries = append(entries, entry{path, filepath.Base(path), TypeSubtitle})
	}
	if len(files.Samples) > 0 {
		if err := os.MkdirAll(filepath.Join(packageDir, SamplesDir), 0o755); err != nil {
			return nil, "", errs.Wrap(errs.KindPackage, err, "failed to create samples directory")
		}
		for _, path := range files.Samples {
			entries = append(entries, entry{path, filepath.Join(SamplesDir, filepath.Base(path)), TypeSample})
		}
	}
	if len(entries) == 0 {
		return nil, "", errs.New(errs.KindPackage, "nothing to package for job %s", jobID)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, "", errs.Wrap(errs.KindCancelled, err, "packaging cancelled")
		}

		dest := filepath.Join(packageDir, e.relName)
		if err := moveFile(e.src, dest); err != nil {
			return nil, "", errs.Wrap(errs.KindPackage, err, "failed to move %s", e.src)
		}

		size, md5sum, sha, err := digestFile(dest)
		if err != nil {
			return nil, "", errs.Wrap(errs.KindPackage, err, "failed to hash %s", dest)
		}
		manifest.Files = append(manifest.Files, ManifestFile{
			Filename: filepath.ToSlash(e.relName),
			Size:     size,
			MD5:      md5sum,
			SHA256:   sha,
			Type:     e.fileType,
		})
		manifest.TotalSize += size
	}

	manifestPath := filepath.Join(packageDir, ManifestName)
	if err := writeManifest(manifestPath, manifest); err != nil {
		return nil, "", errs.Wrap(errs.KindPackage, err, "failed to write manifest")
	}

	p.logger.Info("package assembled",
		"job_id", jobID,
		"dir", packageDir,
		"files", len(manifest.Files),
		"total_size", manifest.TotalSize)
	return manifest, packageDir, nil
}

// digestFile computes size, MD5 and SHA-256 in one streamed pass.
func digestFile(path string) (int64, string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", "", err
	}
	defer f.Close()

	md5Hash := md5.New()
	shaHash := sha256.New()
	size, err := io.Copy(io.MultiWriter(md5Hash, shaHash), f)
	if err != nil {
		return 0, "", "", err
	}
	return size, hex.EncodeToString(md5Hash.Sum(nil)), hex.EncodeToString(shaHash.Sum(nil)), nil
}

func writeManifest(path string, m *Manifest) error {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// moveFile renames src to dest, falling back to copy+remove across
// filesystems.
func moveFile(src, dest string) error {
	if src == dest {
		return nil
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
