// Package fsopen wires a pkg/config.Config into a mounted pkg/fs.Fs, the
// way cmd/fossild and cmd/fossilctl both need to: build the optional
// venti session, the optional metrics backends, and call fs.Open. It
// exists so the daemon and the admin CLI share exactly one path through
// that wiring instead of drifting apart.
package fsopen

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/pkg/cache"
	"github.com/archivefs/fossil/pkg/config"
	"github.com/archivefs/fossil/pkg/fs"
	"github.com/archivefs/fossil/pkg/venti"
)

// Handle bundles the mounted file system with the session it was opened
// against, so the caller can Close both in the right order.
type Handle struct {
	Fs    *fs.Fs
	Venti venti.Session
}

// Close closes the file system, then the venti session if one was opened.
func (h *Handle) Close(ctx context.Context) error {
	var err error
	if h.Fs != nil {
		err = h.Fs.Close(ctx)
	}
	if h.Venti != nil {
		if cerr := h.Venti.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// OpenVenti builds the venti.Session cfg describes, or returns a nil
// Session (not an error) when cfg.Enabled is false: the file system
// mounts without an archiver in that case.
func OpenVenti(ctx context.Context, cfg config.VentiConfig) (venti.Session, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	v, err := venti.NewS3Session(ctx, venti.S3Config{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		KeyPrefix:       cfg.KeyPrefix,
		ForcePathStyle:  cfg.ForcePathStyle,
		Compress:        cfg.Compress,
		MaxRetries:      uint64(cfg.MaxRetries),
	})
	if err != nil {
		return nil, fmt.Errorf("fsopen: venti: %w", err)
	}
	if err := v.Connect(ctx); err != nil {
		return nil, fmt.Errorf("fsopen: venti connect: %w", err)
	}
	return v, nil
}

// Open mounts the file system described by cfg, registering cache and
// archive metrics against reg if non-nil.
func Open(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Handle, error) {
	v, err := OpenVenti(ctx, cfg.Venti)
	if err != nil {
		return nil, err
	}

	var cacheMetrics cache.CacheMetrics
	var archiveMetrics fs.ArchiveMetrics
	if reg != nil {
		cm := cache.NewPrometheusMetrics(reg)
		cacheMetrics = cm
		am := fs.NewPrometheusArchiveMetrics(reg)
		archiveMetrics = am
	}

	f, err := fs.Open(ctx, cfg.Disk.Path, v, cfg, archiveMetrics, cacheMetrics)
	if err != nil {
		if v != nil {
			v.Close()
		}
		return nil, fmt.Errorf("fsopen: open: %w", err)
	}

	logger.InfoCtx(ctx, "file system opened", logger.Key(cfg.Disk.Path))
	return &Handle{Fs: f, Venti: v}, nil
}
