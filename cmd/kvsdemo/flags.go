package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into
// service.Config/kvsclient.Config, so main.go can validate and map.
type cliConfig struct {
	streamName      string
	controlEndpoint string
	region          string
	accessKey       string
	secretKey       string
	sessionToken    string
	clientID        string
	retentionHours  uint
	fps             uint
	keyFrameEvery   uint
	logLevel        string
	showVersion     bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("kvsdemo", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.streamName, "stream", "kvsdemo-stream", "stream name to create/describe")
	fs.StringVar(&cfg.controlEndpoint, "control-endpoint", "", "control-plane base URL (required)")
	fs.StringVar(&cfg.region, "region", "us-east-1", "SigV4 signing region")
	fs.StringVar(&cfg.accessKey, "access-key", os.Getenv("KVS_ACCESS_KEY"), "static access key (defaults to $KVS_ACCESS_KEY)")
	fs.StringVar(&cfg.secretKey, "secret-key", os.Getenv("KVS_SECRET_KEY"), "static secret key (defaults to $KVS_SECRET_KEY)")
	fs.StringVar(&cfg.sessionToken, "session-token", os.Getenv("KVS_SESSION_TOKEN"), "static session token (defaults to $KVS_SESSION_TOKEN)")
	fs.StringVar(&cfg.clientID, "client-id", "", "data-plane client-id header (defaults to a random uuid)")
	fs.UintVar(&cfg.retentionHours, "retention-hours", 24, "stream retention, in hours")
	fs.UintVar(&cfg.fps, "fps", 15, "synthetic frame rate")
	fs.UintVar(&cfg.keyFrameEvery, "key-frame-every", 30, "emit a key frame every N frames")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.showVersion {
		return cfg, nil
	}

	if cfg.controlEndpoint == "" {
		return nil, errors.New("-control-endpoint is required")
	}
	if cfg.accessKey == "" || cfg.secretKey == "" {
		return nil, errors.New("-access-key/-secret-key (or $KVS_ACCESS_KEY/$KVS_SECRET_KEY) are required")
	}
	if cfg.fps == 0 || cfg.fps > 120 {
		return nil, fmt.Errorf("-fps must be between 1 and 120, got %d", cfg.fps)
	}
	if cfg.keyFrameEvery == 0 {
		return nil, errors.New("-key-frame-every must be at least 1")
	}
	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid -log-level %q", cfg.logLevel)
	}

	return cfg, nil
}

func (c *cliConfig) frameInterval() time.Duration {
	return time.Second / time.Duration(c.fps)
}
