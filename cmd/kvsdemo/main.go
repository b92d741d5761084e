// Command kvsdemo drives the producer library end to end against a real
// control/data-plane endpoint: it describes-or-creates a stream, opens a
// PUT_MEDIA session, and feeds it a synthetic H.264 elementary stream
// until interrupted.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/go-kvsproducer/internal/credentials"
	"github.com/alxayo/go-kvsproducer/internal/hooks"
	"github.com/alxayo/go-kvsproducer/internal/kvsclient"
	"github.com/alxayo/go-kvsproducer/internal/kvsmodel"
	"github.com/alxayo/go-kvsproducer/internal/kvsstream"
	"github.com/alxayo/go-kvsproducer/internal/logger"
	"github.com/alxayo/go-kvsproducer/internal/service"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("warning: invalid log level, using default: %v\n", err)
	}
	log := logger.Logger()

	caller := service.New(service.Config{
		ControlEndpoint: cfg.controlEndpoint,
		Region:          cfg.region,
		ClientID:        cfg.clientID,
		Credentials: credentials.NewStaticProvider(credentials.Credentials{
			AccessKey:    cfg.accessKey,
			SecretKey:    cfg.secretKey,
			SessionToken: cfg.sessionToken,
			Expiration:   time.Now().Add(24 * time.Hour),
		}),
	})

	client := kvsclient.New(kvsclient.Config{
		Caller:                caller,
		StoreCapacity:         64 << 20, // 64 MiB in-flight budget
		ViewCapacity:          4096,
		Callbacks:             hooks.NewLoggingCallbacks(),
		StalenessPollInterval: 2 * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Start(ctx); err != nil {
		log.Error().Err(err).Msg("client failed to reach ready")
		os.Exit(1)
	}
	log.Info().Str("state", client.State().String()).Msg("client ready")

	go client.PollStaleness(ctx)

	stream, err := client.AddStream(ctx, kvsclient.StreamConfig{
		Info:           demoStreamInfo(cfg.streamName),
		RetentionHours: uint32(cfg.retentionHours),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to add stream")
		os.Exit(1)
	}

	log.Info().Str("stream", cfg.streamName).Msg("feeding synthetic frames, ctrl-C to stop")
	feedSyntheticFrames(ctx, stream, cfg)

	log.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		client.Close()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("client stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error().Msg("forced exit after timeout")
	}
}

// demoStreamInfo builds a single-track H.264 StreamInfo. The codec
// private data below is a minimal avcC record (profile/level plus one
// SPS and one PPS), the same fixture shape used across this module's
// tests, so the generator never needs to extract parameters from inline
// NALs for this demo.
func demoStreamInfo(name string) *kvsmodel.StreamInfo {
	return &kvsmodel.StreamInfo{
		StreamName:                 name,
		ContentType:                "video/h264",
		TimecodeScaleNs:            1_000_000,
		TargetFragmentDuration:     2 * time.Second,
		ConnectionStalenessTimeout: 30 * time.Second,
		KeyFrameFragmentation:      true,
		FragmentACKRequired:        true,
		Tracks: []kvsmodel.TrackInfo{
			{
				TrackID:          1,
				CodecID:          "V_MPEG4/ISO/AVC",
				TrackType:        kvsmodel.TrackTypeVideo,
				CodecPrivateData: []byte{0x01, 0x42, 0xC0, 0x1F, 0xFF, 0xE1, 0x00, 0x00, 0x01, 0x00, 0x00},
				Video:            kvsmodel.VideoConfig{Width: 1280, Height: 720},
			},
		},
	}
}

// feedSyntheticFrames calls PutFrame on an interval until ctx is done,
// sending an Annex-B-framed IDR payload every cfg.keyFrameEvery frames
// and non-IDR payloads in between.
func feedSyntheticFrames(ctx context.Context, stream *kvsstream.Stream, cfg *cliConfig) {
	log := logger.Logger()
	ticker := time.NewTicker(cfg.frameInterval())
	defer ticker.Stop()

	var dtsHns uint64
	var frameNo uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		keyFrame := frameNo%uint64(cfg.keyFrameEvery) == 0
		payload := syntheticNAL(keyFrame)
		frame := &kvsmodel.Frame{
			TrackID:        1,
			DecodingTs:     dtsHns,
			PresentationTs: dtsHns,
			Duration:       uint64(10_000_000 / uint64(cfg.fps)),
			Payload:        payload,
		}
		if keyFrame {
			frame.Flags = kvsmodel.FrameFlagKeyFrame
		}

		if _, err := stream.PutFrame(frame); err != nil {
			// Expected until the stream machine reaches PUT_STREAM and
			// calls SetReady(true); self-heals once that completes.
			log.Debug().Err(err).Msg("PutFrame rejected")
		}

		dtsHns += frame.Duration
		frameNo++
	}
}

// syntheticNAL builds an Annex-B-framed placeholder access unit: a
// start code, a NAL header byte (IDR vs. non-IDR slice type), and
// random payload bytes standing in for encoded slice data.
func syntheticNAL(keyFrame bool) []byte {
	nalType := byte(0x01) // non-IDR slice
	if keyFrame {
		nalType = 0x05 // IDR slice
	}
	out := []byte{0x00, 0x00, 0x00, 0x01, nalType}
	payload := make([]byte, 256)
	rand.Read(payload)
	return append(out, payload...)
}
