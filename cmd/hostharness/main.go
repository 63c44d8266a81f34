// Command hostharness drives a real microphone through malgo and feeds
// captured frames into an InferenceHandler at the host's native buffer
// size, printing latency and dropped-frame statistics every few seconds.
// It is a wiring demonstration, not a deliverable CLI tool: the library's
// public surface is internal/handler, internal/sched, and internal/config;
// this program exists only to show an embedder how those three packages
// and a registered backend.Pool fit together end to end, including the
// host-donated-thread execution path (backend.Factory's doc comment
// points here for worked Pool.Register examples).
//
// Grounded on the teacher's cmd/assistant/main.go (signal handling,
// context cancellation, WaitGroup-tracked goroutines, ordered shutdown
// with a timeout fallback) and internal/audio/capture.go (malgo device
// setup, lock-free capture ring buffer feeding a dedicated consumer
// goroutine).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/backend/passthrough"
	"github.com/nnrt/audiosched/internal/config"
	"github.com/nnrt/audiosched/internal/diag"
	"github.com/nnrt/audiosched/internal/handler"
	"github.com/nnrt/audiosched/internal/procspec"
	"github.com/nnrt/audiosched/internal/sched"
)

var (
	sampleRate   = flag.Int("sample-rate", 16000, "capture sample rate in Hz")
	bufferMs     = flag.Float64("buffer-ms", 32, "host buffer/callback period in milliseconds")
	numWorkers   = flag.Int("workers", 2, "worker-pool goroutines")
	initialTag   = flag.String("backend", "custom", "initial backend tag: custom or onnx")
	statsEvery   = flag.Duration("stats-interval", 2*time.Second, "how often to print latency/drop stats")
	feedDepth    = flag.Int("feed-depth", 128, "capture ring buffer depth, in chunks")
	feedCapacity = flag.Int("feed-chunk-capacity", 4096, "capture ring buffer chunk capacity, in samples")
)

func main() {
	flag.Parse()
	logger := diag.Default()

	frameSize := int(float64(*sampleRate) * *bufferMs / 1000)
	if frameSize < 1 {
		fmt.Fprintln(os.Stderr, "hostharness: buffer-ms too small for sample-rate, yields a zero-length frame")
		os.Exit(1)
	}

	shape, err := procspec.NewTensorShape([][]int64{{1, int64(frameSize)}}, [][]int64{{1, int64(frameSize)}})
	if err != nil {
		logger.Printf("hostharness: tensor shape: %v", err)
		os.Exit(1)
	}

	pool := backend.NewPool()
	// The always-available fallback: no model file required to run this
	// demo. Registered as a closure over passthrough.Config, per
	// backend.Factory's doc comment — Pool hands factories the generic,
	// value-comparable view InferenceConfig.BackendConfig synthesizes,
	// never a concrete backend's own Config.
	pool.Register(backend.CUSTOM, func(cfg backend.Config) (backend.Backend, error) {
		return passthrough.New(passthrough.Config{Key: "hostharness"})
	})
	onnxReady := maybeRegisterOnnx(pool, shape)
	sherpaReady := maybeRegisterSherpa(pool, *sampleRate)

	models := []config.ModelData{{Tag: backend.CUSTOM, Embedded: true, Bytes: []byte("hostharness-passthrough")}}
	if onnxReady {
		models = append(models, config.ModelData{Tag: backend.ONNX, Path: onnxModelPathValue()})
	}

	inferCfg, err := config.NewInferenceConfig(models, config.UniversalShape(shape), 0, 0, false, *numWorkers, 0)
	if err != nil {
		logger.Printf("hostharness: inference config: %v", err)
		os.Exit(1)
	}

	var initial backend.Tag
	switch *initialTag {
	case "onnx":
		if !onnxReady {
			logger.Printf("hostharness: -backend=onnx requires -onnx-model (build with -tags onnx)")
			os.Exit(1)
		}
		initial = backend.ONNX
	default:
		initial = backend.CUSTOM
	}
	if sherpaReady {
		logger.Printf("hostharness: sherpavad VAD registered under the custom tag")
	}

	ctx := sched.New(*numWorkers, sched.MinJobQueueCapacity, pool, nil, logger)
	processor := procspec.NewDefaultProcessor(shape)

	h, err := handler.New(ctx, inferCfg, processor, initial)
	if err != nil {
		logger.Printf("hostharness: handler: %v", err)
		os.Exit(1)
	}
	defer h.Release()

	hostCfg, err := config.NewHostConfig(float64(frameSize), float64(*sampleRate), true, 0)
	if err != nil {
		logger.Printf("hostharness: host config: %v", err)
		os.Exit(1)
	}
	// SubmitTask demonstrates the host-donated-thread path: whenever
	// PushData completes a frame, the session calls this synchronously
	// on the caller's own goroutine, instead of relying solely on the
	// worker pool to eventually pick the job up off the shared queue.
	// Here the caller is the feed-consumer goroutine below, not the raw
	// malgo audio callback — the callback itself stays non-blocking, per
	// §4.5, by only ever pushing into the lock-free capture ring.
	hostCfg.SubmitTask = func(n int) error {
		for i := 0; i < n; i++ {
			ctx.RunOneDonatedJob()
		}
		return nil
	}

	if err := h.Prepare(hostCfg); err != nil {
		logger.Printf("hostharness: prepare: %v", err)
		os.Exit(1)
	}

	feed := newAudioFeed(*feedDepth, *feedCapacity)

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Printf("hostharness: malgo context: %v", err)
		os.Exit(1)
	}
	defer func() {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
	}()

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = 1
	deviceCfg.SampleRate = uint32(*sampleRate)
	deviceCfg.PeriodSizeInMilliseconds = uint32(*bufferMs)

	callbackScratch := make([]float32, 0, *feedCapacity)
	onRecvFrames := func(_, inputSamples []byte, _ uint32) {
		samples := bytesToFloat32(inputSamples, callbackScratch)
		if len(samples) > 0 {
			feed.push(samples)
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceCfg, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		logger.Printf("hostharness: malgo device: %v", err)
		os.Exit(1)
	}

	stopChan := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		feedLoop(h, feed, stopChan)
	}()

	var popped [4096]float32
	wg.Add(1)
	go func() {
		defer wg.Done()
		statsLoop(h, feed, logger, popped[:], stopChan)
	}()

	if err := device.Start(); err != nil {
		logger.Printf("hostharness: start capture: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	logger.Printf("hostharness: capturing at %d Hz, %v buffers (%d samples); Ctrl+C to stop", *sampleRate, *bufferMs, frameSize)
	<-sigChan

	logger.Printf("hostharness: shutting down")
	device.Stop()
	device.Uninit()
	close(stopChan)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Printf("hostharness: shutdown timeout, forcing exit")
	}
	ctx.Shutdown()
}

// handlerMu serializes feedLoop's and statsLoop's calls into the handler:
// a session's push/pop operations allow exactly one caller at a time.
var handlerMu sync.Mutex

// feedLoop drains the capture ring and pushes each chunk into the
// handler's input tensor. It is the goroutine SubmitTask's host-donated
// jobs actually run on, not the audio callback itself.
func feedLoop(h *handler.Handler, feed *audioFeed, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		chunk := feed.pop()
		if chunk == nil {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		cp := make([]float32, len(chunk))
		copy(cp, chunk)
		handlerMu.Lock()
		h.PushData(0, [][]float32{cp})
		handlerMu.Unlock()
	}
}

// statsLoop periodically drains whatever output is available (so the
// receive buffer never backs up) and reports latency and drop counts.
func statsLoop(h *handler.Handler, feed *audioFeed, logger diag.Logger, scratch []float32, stop <-chan struct{}) {
	ticker := time.NewTicker(*statsEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			drained := 0
			handlerMu.Lock()
			for {
				avail := h.GetAvailableSamples(0, 0)
				if avail <= 0 {
					break
				}
				want := avail
				if want > len(scratch) {
					want = len(scratch)
				}
				n, _ := h.PopData(0, 0, scratch[:want])
				drained += n
				if n < want {
					break
				}
			}
			handlerMu.Unlock()
			logger.Printf("hostharness: latency=%d drained=%d dropped_chunks=%d output_scalar=%.4f",
				h.GetLatency(0), drained, feed.dropped(), h.GetOutputScalar(0))
		}
	}
}
