package links

import (
	"testing"
)

func TestClassifyKinds(t *testing.T) {
	tests := []struct {
		name string
		link string
		want Kind
	}{
		{"magnet", "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567", KindMagnet},
		{"torrent url", "https://example.com/files/show.torrent", KindTorrent},
		{"torrent uppercase suffix", "https://example.com/files/SHOW.TORRENT", KindTorrent},
		{"nzb url", "https://indexer.example.com/get/show.nzb", KindNZB},
		{"nzb scheme", "nzb://indexer/show.nzb", KindNZB},
		{"drive file", "https://drive.google.com/file/d/1A2b3C-4d5E_6f/view", KindGDrive},
		{"drive folder", "https://drive.google.com/drive/folders/9Z8y7X_6w", KindGDrive},
		{"gdrive scheme", "gdrive://1A2b3C-4d5E_6f", KindGDrive},
		{"ftp", "ftp://files.example.com/show.mkv", KindFTP},
		{"https", "https://example.com/show.mkv", KindHTTPS},
		{"http", "http://example.com/show.mkv", KindHTTP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.link)
			if got == nil {
				t.Fatalf("Classify(%q) = nil", tt.link)
			}
			if got.Kind != tt.want {
				t.Errorf("Classify(%q).Kind = %q, want %q", tt.link, got.Kind, tt.want)
			}
			if got.Original != tt.link {
				t.Errorf("Original = %q, want %q", got.Original, tt.link)
			}
		})
	}
}

func TestClassifyUnrecognized(t *testing.T) {
	for _, link := range []string{"", "   ", "not a link", "file:///tmp/x"} {
		if got := Classify(link); got != nil {
			t.Errorf("Classify(%q) = %+v, want nil", link, got)
		}
	}
}

func TestClassifyMagnetMetadata(t *testing.T) {
	link := "magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567" +
		"&dn=Some+Show+S01E01&tr=udp%3A%2F%2Ftracker.one%3A1337&tr=udp%3A%2F%2Ftracker.two%3A80"
	c := Classify(link)
	if c == nil {
		t.Fatal("Classify returned nil")
	}
	// Info hashes are normalized to lower case.
	if c.InfoHash != "0123456789abcdef0123456789abcdef01234567" {
		t.Errorf("InfoHash = %q", c.InfoHash)
	}
	if c.DisplayName != "Some Show S01E01" {
		t.Errorf("DisplayName = %q", c.DisplayName)
	}
	if len(c.Trackers) != 2 || c.Trackers[0] != "udp://tracker.one:1337" {
		t.Errorf("Trackers = %v", c.Trackers)
	}
}

func TestClassifyMagnetBase32Hash(t *testing.T) {
	c := Classify("magnet:?xt=urn:btih:ABCDEFGHIJKLMNOPQRSTUVWXYZ234567")
	if c == nil {
		t.Fatal("Classify returned nil")
	}
	if c.InfoHash != "abcdefghijklmnopqrstuvwxyz234567" {
		t.Errorf("InfoHash = %q", c.InfoHash)
	}
}

func TestClassifyDriveIDs(t *testing.T) {
	tests := []struct {
		link       string
		wantFile   string
		wantFolder string
	}{
		{"https://drive.google.com/file/d/1A2b3C-4d5E_6f/view?usp=sharing", "1A2b3C-4d5E_6f", ""},
		{"https://drive.google.com/open?id=1A2b3C", "1A2b3C", ""},
		{"https://drive.google.com/d/XYZ123", "XYZ123", ""},
		{"gdrive://RawFileId_42", "RawFileId_42", ""},
		{"https://drive.google.com/drive/folders/Folder-Id_7", "", "Folder-Id_7"},
	}
	for _, tt := range tests {
		c := Classify(tt.link)
		if c == nil {
			t.Fatalf("Classify(%q) = nil", tt.link)
		}
		if c.FileID != tt.wantFile {
			t.Errorf("Classify(%q).FileID = %q, want %q", tt.link, c.FileID, tt.wantFile)
		}
		if c.FolderID != tt.wantFolder {
			t.Errorf("Classify(%q).FolderID = %q, want %q", tt.link, c.FolderID, tt.wantFolder)
		}
	}
}

func TestClassifyNZBName(t *testing.T) {
	c := Classify("https://indexer.example.com/get/Some.Show.S01E01.nzb")
	if c == nil {
		t.Fatal("Classify returned nil")
	}
	if c.NZBName != "Some.Show.S01E01.nzb" {
		t.Errorf("NZBName = %q", c.NZBName)
	}
}

func TestDriveWinsOverHTTPS(t *testing.T) {
	c := Classify("https://drive.google.com/file/d/abc123/view")
	if c == nil || c.Kind != KindGDrive {
		t.Fatalf("drive share URL classified as %+v, want gdrive", c)
	}
}
