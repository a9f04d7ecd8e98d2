package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vnykmshr/filequeue/pkg/filequeue"
)

// cmdEnv carries flags and resources shared by every command.
type cmdEnv struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logDir     string
	stdin      bool

	closers []io.Closer
}

func (e *cmdEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
}

// config loads -config, or the defaults when it is not set.
func (e *cmdEnv) config() (*filequeue.Config, error) {
	if e.configPath == "" {
		cfg := filequeue.DefaultConfig()
		// an inspection tool must work on a nearly full disk
		cfg.MinFreeDiskSpace = 0
		return cfg, nil
	}
	return filequeue.LoadConfig(e.configPath)
}

// logOutput returns the rotating log file under -log-dir, or stderr.
func (e *cmdEnv) logOutput() io.Writer {
	if e.logDir == "" {
		return e.stderr
	}
	lj := &lumberjack.Logger{
		Filename:   filepath.Join(e.logDir, "filequeue.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	e.closers = append(e.closers, lj)
	return lj
}

// open opens the queue at dir with the configured options, including any
// remote archiver named by the configuration.
func (e *cmdEnv) open(ctx context.Context, dir string) (*filequeue.Queue, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	if e.logDir != "" && (cfg.Log.Format == "" || cfg.Log.Format == "none") {
		cfg.Log.Format = "json"
	}

	opts, err := cfg.Options(e.logOutput())
	if err != nil {
		return nil, err
	}

	remote, err := buildArchiver(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to configure archive: %w", err)
	}
	if remote != nil {
		if opts.Retention == nil {
			opts.Retention = &filequeue.RetentionPolicy{}
		}
		opts.Retention.Archiver = remote
	}

	q, err := filequeue.Open(dir, opts)
	if err != nil {
		if errors.Is(err, filequeue.ErrLocked) {
			return nil, fmt.Errorf("queue %s is in use by another process: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	return q, nil
}
