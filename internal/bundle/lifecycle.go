package bundle

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/coreerr"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/sanitize"
)

// deletingSuffix marks a directory that has been unlinked from the bundle
// namespace but whose on-disk removal is still pending (spec §4.11).
const deletingSuffix = ".deleting."

// stagingPrefix marks a directory being assembled before its atomic rename
// into the bundle root.
const stagingPrefix = "staging."

// Indexer is the subset of internal/indexer.Indexer the lifecycle driver
// needs. It is defined here, not imported, so this package never depends on
// indexer (which already depends on bundle).
type Indexer interface {
	Index(ctx context.Context, bundlePath, bundleID string) (IndexResult, error)
}

// IndexResult mirrors indexer.Result's shape without creating an import
// cycle between internal/bundle and internal/indexer.
type IndexResult struct {
	ChunksWritten int
	Entities      int
	Relations     int
	Errors        []string
	DurationMs    int64
}

// VectorDeleter is the subset of internal/vectorstore.Store the lifecycle
// driver needs for bundle deletion.
type VectorDeleter interface {
	Delete(ctx context.Context, namespace string) error
}

// LifecycleConfig controls the staging/delete/sweep behavior.
type LifecycleConfig struct {
	Root              string        // directory holding one subdirectory per bundle
	TmpDir            string        // directory used for staging builds
	StagingStaleAfter time.Duration // age threshold for the startup sweep
}

// Lifecycle drives bundle build/delete/sweep as a thin collaborator around
// the Indexer (spec §4.11): it owns the filesystem choreography, the
// Indexer owns chunking/embedding/graph-building.
type Lifecycle struct {
	cfg     LifecycleConfig
	indexer Indexer
	vectors VectorDeleter
	logger  *zap.Logger
}

// New builds a Lifecycle driver.
func New(cfg LifecycleConfig, indexer Indexer, vectors VectorDeleter, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{cfg: cfg, indexer: indexer, vectors: vectors, logger: logger}
}

// ValidateBundleID enforces spec §4.11's "must match a UUID v4 pattern"
// invariant; any other name is rejected rather than silently ignored by
// the caller.
func ValidateBundleID(bundleID string) error {
	if !sanitize.IsUUIDv4(bundleID) {
		return coreerr.New(coreerr.KindInvalidPath, "bundle id is not a valid UUID v4").WithHint(bundleID)
	}
	return nil
}

// Build implements spec §4.11's build invariant: the bundle is assembled in
// a staging directory under TmpDir, copied from sourcePath, then atomically
// renamed into place under Root before the Indexer runs against it. Any
// failure before the rename removes the staging directory; the bundle root
// never observes a partially-built bundle.
func (l *Lifecycle) Build(ctx context.Context, bundleID, sourcePath string) (IndexResult, error) {
	if err := ValidateBundleID(bundleID); err != nil {
		return IndexResult{}, err
	}

	sourcePath, err := sanitize.ValidateBundlePath(sourcePath)
	if err != nil {
		return IndexResult{}, coreerr.New(coreerr.KindInvalidPath, "source path rejected").WithHint(err.Error())
	}

	staging, err := l.stageCopy(sourcePath)
	if err != nil {
		return IndexResult{}, fmt.Errorf("bundle: stage %s: %w", bundleID, err)
	}

	finalDir := filepath.Join(l.cfg.Root, bundleID)
	if err := l.swapIntoPlace(staging, finalDir); err != nil {
		os.RemoveAll(staging)
		return IndexResult{}, fmt.Errorf("bundle: commit %s: %w", bundleID, err)
	}

	result, err := l.indexer.Index(ctx, finalDir, bundleID)
	if err != nil {
		return result, fmt.Errorf("bundle: index %s: %w", bundleID, err)
	}
	return result, nil
}

// stageCopy copies sourcePath's full tree into a freshly created staging
// directory under TmpDir, returning its path. The caller removes it on any
// downstream failure.
func (l *Lifecycle) stageCopy(sourcePath string) (string, error) {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	staging := filepath.Join(l.cfg.TmpDir, fmt.Sprintf("%s%x", stagingPrefix, suffix))
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", err
	}

	if err := copyTree(sourcePath, staging); err != nil {
		os.RemoveAll(staging)
		return "", err
	}
	return staging, nil
}

// swapIntoPlace renames staging to finalDir. If finalDir already holds a
// previous version of the bundle (a re-index), the previous directory is
// moved aside with the same .deleting.<timestamp> convention used by
// Delete, then cleaned up asynchronously, so a re-index never leaves the
// bundle root briefly empty or readers briefly seeing no bundle at all.
func (l *Lifecycle) swapIntoPlace(staging, finalDir string) error {
	if _, err := os.Stat(finalDir); err == nil {
		aside := finalDir + fmt.Sprintf("%s%d", deletingSuffix, time.Now().UnixNano())
		if err := os.Rename(finalDir, aside); err != nil {
			return fmt.Errorf("move aside previous bundle: %w", err)
		}
		go l.removeAsync(aside)
	}
	return os.Rename(staging, finalDir)
}

// Delete implements spec §4.11's delete invariant: the bundle directory is
// renamed to a .deleting.<timestamp> suffix and removed from disk
// asynchronously; the matching vector-store namespace is dropped before the
// call returns (a failure there is logged as a warning, not returned).
func (l *Lifecycle) Delete(ctx context.Context, bundleID string) error {
	if err := ValidateBundleID(bundleID); err != nil {
		return err
	}

	finalDir := filepath.Join(l.cfg.Root, bundleID)
	aside := finalDir + fmt.Sprintf("%s%d", deletingSuffix, time.Now().UnixNano())
	if err := os.Rename(finalDir, aside); err != nil {
		if os.IsNotExist(err) {
			return coreerr.New(coreerr.KindBundleNotFound, "bundle not found").WithHint(bundleID)
		}
		return fmt.Errorf("bundle: delete %s: %w", bundleID, err)
	}

	go l.removeAsync(aside)
	if err := l.vectors.Delete(ctx, bundleID); err != nil {
		l.logger.Warn("bundle: vector namespace delete failed", zap.String("bundle_id", bundleID), zap.Error(err))
	}
	return nil
}

func (l *Lifecycle) removeAsync(path string) {
	if err := os.RemoveAll(path); err != nil {
		l.logger.Warn("bundle: async directory removal failed", zap.String("path", path), zap.Error(err))
	}
}

// SweepOrphans runs on startup: any .deleting.* directory under Root, or
// staging.* directory under TmpDir, older than StagingStaleAfter is removed.
// A process that crashed mid-delete or mid-build leaves exactly this kind of
// orphan; nothing else is allowed to accumulate disk indefinitely.
func (l *Lifecycle) SweepOrphans() {
	threshold := l.cfg.StagingStaleAfter
	if threshold <= 0 {
		threshold = time.Hour
	}
	l.sweepDir(l.cfg.Root, deletingMarker, threshold)
	l.sweepDir(l.cfg.TmpDir, stagingMarker, threshold)
}

type dirMarker func(name string) bool

func deletingMarker(name string) bool { return strings.Contains(name, deletingSuffix) }
func stagingMarker(name string) bool  { return strings.HasPrefix(name, stagingPrefix) }

func (l *Lifecycle) sweepDir(root string, matches dirMarker, threshold time.Duration) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	now := time.Now()
	for _, entry := range entries {
		if !entry.IsDir() || !matches(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < threshold {
			continue
		}
		path := filepath.Join(root, entry.Name())
		l.logger.Info("bundle: sweeping orphaned directory", zap.String("path", path))
		if err := os.RemoveAll(path); err != nil {
			l.logger.Warn("bundle: orphan sweep failed", zap.String("path", path), zap.Error(err))
		}
	}
}

// copyTree recursively copies src into dst, preserving relative structure.
// dst must already exist.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
