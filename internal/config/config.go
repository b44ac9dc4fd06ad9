package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// Service endpoints
	APIURL      = getEnvWithDefault("API_URL", "http://localhost:8080")
	DatabaseURL = getEnvWithDefault("DATABASE_URL", "mediabot.db")
	RedisURL    = getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0")

	// Storage roots
	StorageWorking   = getEnvWithDefault("STORAGE_WORKING", "/var/lib/mediabot/working")
	StorageProcessed = getEnvWithDefault("STORAGE_PROCESSED", "/var/lib/mediabot/processed")
	StorageSamples   = getEnvWithDefault("STORAGE_SAMPLES", "/var/lib/mediabot/samples")

	// External binaries
	ProbeBinary  = getEnvWithDefault("PROBE_BINARY", "ffprobe")
	MuxBinary    = getEnvWithDefault("MUX_BINARY", "ffmpeg")
	SyncBinary   = getEnvWithDefault("SYNC_ANALYZE_BINARY", "av-sync-probe")
	RcloneBinary = getEnvWithDefault("RCLONE_BINARY", "rclone")
	RcloneConfig = os.Getenv("RCLONE_CONFIG")

	// External client endpoints
	QBittorrentURL      = getEnvWithDefault("QBITTORRENT_URL", "http://localhost:8081")
	QBittorrentUser     = os.Getenv("QBITTORRENT_USER")
	QBittorrentPassword = os.Getenv("QBITTORRENT_PASSWORD")
	Aria2RPCURL         = getEnvWithDefault("ARIA2_RPC_URL", "http://localhost:6800/jsonrpc")
	Aria2RPCSecret      = os.Getenv("ARIA2_RPC_SECRET")
	SabnzbdURL          = getEnvWithDefault("SABNZBD_URL", "http://localhost:8085")
	SabnzbdAPIKey       = os.Getenv("SABNZBD_API_KEY")
	SabnzbdCategory     = getEnvWithDefault("SABNZBD_CATEGORY", "mediabot")
	RcloneRemote        = getEnvWithDefault("RCLONE_REMOTE", "gdrive")

	// Upload targets
	UploadTarget          = getEnvWithDefault("UPLOAD_TARGET", "gdrive") // "gdrive" or "s3"
	UploadSecondaryTarget = os.Getenv("UPLOAD_SECONDARY_TARGET")

	// S3/R2 configuration
	S3Region      = getEnvWithDefault("AWS_REGION", "auto")
	S3Bucket      = os.Getenv("S3_BUCKET")
	S3AccessKey   = os.Getenv("AWS_ACCESS_KEY_ID")
	S3SecretKey   = os.Getenv("AWS_SECRET_ACCESS_KEY")
	S3EndpointURL = os.Getenv("AWS_ENDPOINT_URL")
	S3Prefix      = getEnvWithDefault("S3_PREFIX", "packages")

	// Google Drive
	Scopes        = []string{"https://www.googleapis.com/auth/drive"}
	DriveFolderID = os.Getenv("GDRIVE_FOLDER_ID")

	// Pipeline tunables
	MaxRetries         = getEnvInt("MAX_RETRIES", 3)
	DownloadSlots      = getEnvInt("DOWNLOAD_SLOTS", 4)
	ProcessSlots       = getEnvInt("PROCESS_SLOTS", 2)
	UploadSlots        = getEnvInt("UPLOAD_SLOTS", 4)
	StepTimeout        = getEnvDuration("STEP_TIMEOUT", 30*time.Minute)
	CloudCopyTimeout   = getEnvDuration("CLOUD_COPY_TIMEOUT", time.Hour)
	HealthProbeTimeout = getEnvDuration("HEALTH_PROBE_TIMEOUT", 5*time.Second)

	// Progress records
	ProgressTTL = getEnvDuration("PROGRESS_TTL", time.Hour)

	// Sync decision thresholds (milliseconds unless noted)
	InSyncThresholdMs   = getEnvFloat("IN_SYNC_THRESHOLD_MS", 40)
	MinorThresholdMs    = getEnvFloat("MINOR_THRESHOLD_MS", 100)
	ModerateThresholdMs = getEnvFloat("MODERATE_THRESHOLD_MS", 300)
	SevereThresholdMs   = getEnvFloat("SEVERE_THRESHOLD_MS", 1000)
	DriftSignificant    = getEnvFloat("DRIFT_SIGNIFICANT_MS_PER_S", 2)
	ConfidenceFloor     = getEnvFloat("CONFIDENCE_FLOOR", 0.70)
)

// LogLevel parses LOG_LEVEL, defaulting to info.
func LogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
