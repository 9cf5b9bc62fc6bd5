package main

import (
	"context"
	"fmt"

	"voiceover-mixer/internal/config"
	"voiceover-mixer/internal/fetch"
	"voiceover-mixer/internal/mixer"
	"voiceover-mixer/internal/storage"
	"voiceover-mixer/internal/transcoder"
	"voiceover-mixer/internal/workspace"
)

// pipeline holds the wired mixing stack.
type pipeline struct {
	engine     *transcoder.Engine
	workspaces *workspace.Manager
	service    *mixer.Service
}

// newPipeline builds the service from cfg. allowLocal lets inputs be plain
// file paths, which only the one-shot CLI permits.
func newPipeline(ctx context.Context, cfg *config.Config, allowLocal bool) (*pipeline, error) {
	// 1. Initialize the Transcoding Engine
	// This performs the FFmpeg path lookup and hardware probing.
	engine, err := transcoder.NewEngine(ctx, transcoder.EngineConfig{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		AllowHW:     cfg.EnableHWAccel,
		Timeout:     cfg.Transcode.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transcoder engine: %w", err)
	}

	// 2. Downloader and workspaces
	fetcher := fetch.NewClient(fetch.Options{
		RetryMax:     cfg.Fetch.RetryMax,
		RetryWaitMin: cfg.Fetch.RetryWaitMin,
		RetryWaitMax: cfg.Fetch.RetryWaitMax,
		Timeout:      cfg.Fetch.Timeout,
		MaxBytes:     cfg.Fetch.MaxBytes,
		AllowLocal:   allowLocal,
	})
	workspaces, err := workspace.NewManager(cfg.Workspace.Root, fetcher)
	if err != nil {
		return nil, err
	}

	// 3. Optional object store
	var store mixer.Uploader
	if cfg.Store.Endpoint != "" {
		store = storage.NewClient(storage.Config{
			Endpoint:      cfg.Store.Endpoint,
			PublicBaseURL: cfg.Store.PublicBaseURL,
			Token:         cfg.Store.Token,
			RetryMax:      cfg.Fetch.RetryMax,
			RetryWaitMin:  cfg.Fetch.RetryWaitMin,
			RetryWaitMax:  cfg.Fetch.RetryWaitMax,
		})
	}

	service := mixer.New(cfg, mixer.Deps{
		Workspaces: workspaces,
		Executor:   transcoder.NewExecutor(engine, engine),
		Prober:     engine,
		Store:      store,
		VideoCodec: engine.Codec(),
	})
	return &pipeline{engine: engine, workspaces: workspaces, service: service}, nil
}
