package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/quartz"
)

const defaultCacheDuration = 10 * time.Second

// StorageUsage is the data directory's disk usage against its limit.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
	InMemory  bool  `json:"in_memory,omitempty"`
}

// OverLimit reports whether usage exceeds the configured limit.
func (u StorageUsage) OverLimit() bool {
	return u.MaxBytes > 0 && u.UsedBytes > u.MaxBytes
}

// StorageMonitor reports disk usage of the store's data directory. Directory
// walks are cached for a few seconds.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	clock         quartz.Clock
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a storage monitor. An empty dataDir means the
// store lives in memory and usage is always zero.
func NewStorageMonitor(dataDir string, maxBytes int64, clock quartz.Clock) *StorageMonitor {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		clock:         clock,
		cacheDuration: defaultCacheDuration,
	}
}

// GetUsage returns current storage usage in bytes.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	if sm.dataDir == "" {
		return 0, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && sm.clock.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}
	sm.cachedUsage = usage
	sm.lastCheck = sm.clock.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Usage returns usage and limit together.
func (sm *StorageMonitor) Usage() (StorageUsage, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return StorageUsage{}, err
	}
	return StorageUsage{UsedBytes: used, MaxBytes: sm.maxBytes, InMemory: sm.dataDir == ""}, nil
}

func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		actual, err := getActualFileSize(filePath, info)
		if err != nil {
			actual = info.Size()
		}
		size += actual
		return nil
	})
	return size, err
}
