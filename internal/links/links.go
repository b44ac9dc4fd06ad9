package links

import (
	"net/url"
	"regexp"
	"strings"
)

// Kind identifies the transport a link resolves to.
type Kind string

const (
	KindMagnet  Kind = "magnet"
	KindTorrent Kind = "torrent"
	KindNZB     Kind = "nzb"
	KindGDrive  Kind = "gdrive"
	KindFTP     Kind = "ftp"
	KindHTTPS   Kind = "https"
	KindHTTP    Kind = "http"
)

// Classified is the parse result for a recognized link.
type Classified struct {
	Original string `json:"original"`
	Kind     Kind   `json:"kind"`

	// Magnet metadata
	InfoHash    string   `json:"info_hash,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Trackers    []string `json:"trackers,omitempty"`

	// Google Drive metadata
	FileID   string `json:"file_id,omitempty"`
	FolderID string `json:"folder_id,omitempty"`

	// Usenet metadata
	NZBName string `json:"nzb_name,omitempty"`
}

var (
	btihRe       = regexp.MustCompile(`(?i)btih:([0-9a-f]{40}|[a-z2-7]{32})`)
	driveFileRes = []*regexp.Regexp{
		regexp.MustCompile(`/file/d/([A-Za-z0-9_-]+)`),
		regexp.MustCompile(`[?&]id=([A-Za-z0-9_-]+)`),
		regexp.MustCompile(`/d/([A-Za-z0-9_-]+)`),
		regexp.MustCompile(`(?i)^gdrive://([A-Za-z0-9_-]+)`),
	}
	driveFolderRe = regexp.MustCompile(`/folders/([A-Za-z0-9_-]+)`)
	nzbNameRe     = regexp.MustCompile(`([^/\\]+\.nzb)$`)
)

// Classify parses a user-supplied link into its kind plus extracted
// metadata. Returns nil for unrecognized input. Matching is first-match-wins
// in the order magnet, torrent, nzb, gdrive, ftp, https, http; a Drive
// share URL classifies as gdrive even though it is also a valid https URL.
func Classify(link string) *Classified {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil
	}
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "magnet:"):
		return classifyMagnet(trimmed)
	case strings.HasSuffix(lower, ".torrent"):
		return &Classified{Original: trimmed, Kind: KindTorrent}
	case strings.HasSuffix(lower, ".nzb") || strings.HasPrefix(lower, "nzb://"):
		c := &Classified{Original: trimmed, Kind: KindNZB}
		if m := nzbNameRe.FindStringSubmatch(trimmed); m != nil {
			c.NZBName = m[1]
		}
		return c
	case strings.Contains(lower, "drive.google.com") || strings.HasPrefix(lower, "gdrive:"):
		return classifyDrive(trimmed)
	case strings.HasPrefix(lower, "ftp://"):
		return &Classified{Original: trimmed, Kind: KindFTP}
	case strings.HasPrefix(lower, "https://"):
		return &Classified{Original: trimmed, Kind: KindHTTPS}
	case strings.HasPrefix(lower, "http://"):
		return &Classified{Original: trimmed, Kind: KindHTTP}
	}
	return nil
}

func classifyMagnet(link string) *Classified {
	c := &Classified{Original: link, Kind: KindMagnet}

	if m := btihRe.FindStringSubmatch(link); m != nil {
		c.InfoHash = strings.ToLower(m[1])
	}

	// The query component carries dn and tr params in standard URL encoding.
	if idx := strings.Index(link, "?"); idx >= 0 {
		if values, err := url.ParseQuery(link[idx+1:]); err == nil {
			c.DisplayName = values.Get("dn")
			c.Trackers = values["tr"]
		}
	}
	return c
}

func classifyDrive(link string) *Classified {
	c := &Classified{Original: link, Kind: KindGDrive}

	for _, re := range driveFileRes {
		if m := re.FindStringSubmatch(link); m != nil {
			c.FileID = m[1]
			break
		}
	}
	if m := driveFolderRe.FindStringSubmatch(link); m != nil {
		c.FolderID = m[1]
	}
	return c
}
