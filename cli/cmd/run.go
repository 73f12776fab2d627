package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rndnanthu/Comfyui-Livepreview/adapter"
	adapterredis "github.com/rndnanthu/Comfyui-Livepreview/adapter/redis"
	adapterwebhook "github.com/rndnanthu/Comfyui-Livepreview/adapter/webhook"
	"github.com/rndnanthu/Comfyui-Livepreview/archive"
	"github.com/rndnanthu/Comfyui-Livepreview/classify"
	"github.com/rndnanthu/Comfyui-Livepreview/cli/config"
	"github.com/rndnanthu/Comfyui-Livepreview/cli/tui"
	"github.com/rndnanthu/Comfyui-Livepreview/comfy"
	"github.com/rndnanthu/Comfyui-Livepreview/engine"
	"github.com/rndnanthu/Comfyui-Livepreview/iox"
	"github.com/rndnanthu/Comfyui-Livepreview/ledger"
	"github.com/rndnanthu/Comfyui-Livepreview/log"
	"github.com/rndnanthu/Comfyui-Livepreview/metrics"
	"github.com/rndnanthu/Comfyui-Livepreview/persist"
	"github.com/rndnanthu/Comfyui-Livepreview/preview"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// Exit codes for livepreview run.
const (
	exitSuccess     = 0 // run reached execution_success
	exitRunFailed   = 1 // run reached execution_error
	exitInterrupted = 2 // operator interrupt before a terminal event
	exitMonitorFail = 3 // monitor-side failure (dial, queue, flush)
)

// RunCommand returns the run command: connect, optionally queue a
// workflow, track the run, and flush the record.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Track one workflow execution and save its record",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to livepreview.yaml config file",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "ComfyUI server address (host:port)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Label for the monitored engine instance",
			},
			&cli.StringFlag{
				Name:  "workflow",
				Usage: "Workflow JSON to queue on start (omit to attach to an external run)",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Record output path",
				Value: "results.json",
			},
			FormatFlag,
			&cli.StringFlag{
				Name:  "preview-out",
				Usage: "Mirror the latest preview frame to this file",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path ('-' for stderr)",
			},
			&cli.StringSliceFlag{
				Name:  "ignore",
				Usage: "Additional control message types to drop",
			},
			TUIFlag,
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
			&cli.DurationFlag{
				Name:  "fetch-timeout",
				Usage: "Timeout for the post-success history fetch",
			},
			&cli.DurationFlag{
				Name:  "flush-timeout",
				Usage: "Timeout for the final record flush",
			},
			// Archive storage flags
			&cli.StringFlag{
				Name:  "storage-dataset",
				Usage: "Archive dataset ID (empty disables archiving)",
			},
			&cli.StringFlag{
				Name:  "storage-backend",
				Usage: "Archive storage backend: fs or s3",
				Value: "fs",
			},
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "Archive storage path (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "storage-s3-region",
				Usage: "AWS region for the S3 backend (optional, uses default chain)",
			},
			// Adapter flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Downstream notification adapter: redis or webhook",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Adapter endpoint (redis:// URL or webhook URL)",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis pub/sub channel override",
			},
		},
		Action: runAction,
	}
}

// runSettings is the merged view of config file values and CLI flags.
// Flags always win.
type runSettings struct {
	host       string
	source     string
	workflow   string
	out        string
	format     string
	previewOut string
	report     string
	ignore     []string

	fetchTimeout time.Duration
	flushTimeout time.Duration

	storage config.StorageConfig
	adapter config.AdapterConfig
}

func resolveSettings(c *cli.Context) (*runSettings, error) {
	s := &runSettings{}

	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		s.host = cfg.Host
		s.source = cfg.Source
		s.workflow = cfg.Workflow
		s.out = cfg.Out
		s.format = cfg.Format
		s.previewOut = cfg.PreviewOut
		s.report = cfg.Report
		s.ignore = cfg.Ignore
		s.fetchTimeout = cfg.Timeouts.Fetch.Duration
		s.flushTimeout = cfg.Timeouts.Flush.Duration
		s.storage = cfg.Storage
		s.adapter = cfg.Adapter
	}

	if v := c.String("host"); v != "" {
		s.host = v
	}
	if v := c.String("source"); v != "" {
		s.source = v
	}
	if v := c.String("workflow"); v != "" {
		s.workflow = v
	}
	if v := c.String("out"); v != "" && (c.IsSet("out") || s.out == "") {
		s.out = v
	}
	if v := c.String("format"); v != "" && (c.IsSet("format") || s.format == "") {
		s.format = v
	}
	if v := c.String("preview-out"); v != "" {
		s.previewOut = v
	}
	if v := c.String("report"); v != "" {
		s.report = v
	}
	if v := c.StringSlice("ignore"); len(v) > 0 {
		s.ignore = append(s.ignore, v...)
	}
	if v := c.Duration("fetch-timeout"); v > 0 {
		s.fetchTimeout = v
	}
	if v := c.Duration("flush-timeout"); v > 0 {
		s.flushTimeout = v
	}
	if v := c.String("storage-dataset"); v != "" {
		s.storage.Dataset = v
	}
	if v := c.String("storage-backend"); c.IsSet("storage-backend") || s.storage.Backend == "" {
		s.storage.Backend = v
	}
	if v := c.String("storage-path"); v != "" {
		s.storage.Path = v
	}
	if v := c.String("storage-s3-region"); v != "" {
		s.storage.Region = v
	}
	if v := c.String("adapter"); v != "" {
		s.adapter.Type = v
	}
	if v := c.String("adapter-url"); v != "" {
		s.adapter.URL = v
	}
	if v := c.String("adapter-channel"); v != "" {
		s.adapter.Channel = v
	}

	if s.host == "" {
		return nil, fmt.Errorf("a server host is required (--host or config file)")
	}
	return s, nil
}

func runAction(c *cli.Context) error {
	settings, err := resolveSettings(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitMonitorFail)
	}

	clientID := comfy.NewClientID()
	logger := log.NewLogger(log.RunContext{ClientID: clientID, Source: settings.source})
	if c.Bool("tui") {
		// The alternate screen owns stderr while the monitor runs.
		logger = logger.WithOutput(io.Discard)
	}
	defer iox.DiscardErr(logger.Sync)

	collector := metrics.NewCollector()
	led := ledger.New(clientID)

	// Record saver: file, plus archive when configured.
	saver, archiveCleanup, err := buildSaver(c.Context, settings)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot set up persistence: %v", err), exitMonitorFail)
	}
	defer archiveCleanup()

	// HTTP collaborator for queueing and the post-success history fetch.
	client, err := comfy.NewClient(comfy.ClientConfig{Host: settings.host})
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot create client: %v", err), exitMonitorFail)
	}
	defer iox.DiscardClose(client)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	socket, err := comfy.DialSocket(ctx, comfy.SocketConfig{
		Host:     settings.host,
		ClientID: clientID,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot connect to %s: %v", settings.host, err), exitMonitorFail)
	}

	// Preview sinks: optional file mirror, optional TUI.
	var sinks engine.MultiSink
	var fileSink *preview.FileSink
	if settings.previewOut != "" {
		fileSink = preview.NewFileSink(settings.previewOut)
		sinks = append(sinks, fileSink)
	}

	var monitorProgram func() error
	if c.Bool("tui") {
		program, wait := tui.RunMonitor(led)
		sinks = append(sinks, tui.NewMonitorSink(program))
		monitorProgram = wait
	}

	var sink engine.Sink = engine.NopSink{}
	if len(sinks) > 0 {
		sink = sinks
	}

	closers := []io.Closer{socket}
	if fileSink != nil {
		closers = append(closers, fileSink)
	}

	coord := engine.NewCoordinator(led, saver, logger, engine.CoordinatorOptions{
		Closers:      closers,
		Collector:    collector,
		FlushTimeout: settings.flushTimeout,
	})

	classifier := classify.NewClassifier(append(classify.DefaultIgnored, settings.ignore...))
	dispatcher := engine.NewDispatcher(led, coord, classifier, logger, engine.DispatcherOptions{
		Sink:         sink,
		Fetcher:      client,
		Collector:    collector,
		FetchTimeout: settings.fetchTimeout,
	})

	// Interrupt handling: first signal saves what we have and exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			coord.RequestShutdown(ctx, engine.ReasonInterrupt)
			cancel()
		case <-coord.Done():
		}
	}()

	// Reader loop. A transport close before the terminal event still
	// flushes whatever the ledger holds.
	go func() {
		err := socket.Run(ctx, dispatcher.OnMessage)
		if err != nil && ctx.Err() == nil {
			logger.Error("push channel failed", map[string]any{"error": err.Error()})
		}
		coord.RequestShutdown(ctx, engine.ReasonTransportClosed)
	}()

	// Queue the workflow after the socket is listening so no early
	// events are missed.
	if settings.workflow != "" {
		if err := queueWorkflow(ctx, client, settings.workflow, clientID, logger); err != nil {
			coord.RequestShutdown(ctx, engine.ReasonInterrupt)
			<-coord.Done()
			return cli.Exit(fmt.Sprintf("cannot queue workflow: %v", err), exitMonitorFail)
		}
	}

	if monitorProgram != nil {
		// Blocks until the run ends or the operator quits the TUI.
		if err := monitorProgram(); err != nil {
			logger.Warn("monitor exited with error", map[string]any{"error": err.Error()})
		}
		coord.RequestShutdown(ctx, engine.ReasonInterrupt)
	}

	<-coord.Done()

	rec := led.Snapshot()
	notifyAdapter(settings, rec, logger, collector)

	code := exitCode(coord, rec)
	if settings.report != "" {
		report := engine.BuildRunReport(rec, coord, collector.Snapshot(), settings.source, settings.out, code)
		if err := engine.WriteRunReport(report, settings.report); err != nil {
			logger.Warn("report write failed", map[string]any{"error": err.Error()})
		}
	}

	if !c.Bool("quiet") {
		printRunResult(rec, settings.out, collector.Snapshot())
	}

	return cli.Exit("", code)
}

// buildSaver assembles the persistence chain: always the record file,
// plus the Lode archive when a dataset is configured.
func buildSaver(ctx context.Context, settings *runSettings) (engine.Saver, func(), error) {
	fileSaver, err := persist.NewFileSaver(settings.out, settings.format)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	if settings.storage.Dataset == "" {
		return fileSaver, cleanup, nil
	}

	cfg := archive.Config{
		Dataset: settings.storage.Dataset,
		Source:  settings.source,
	}
	if cfg.Source == "" {
		cfg.Source = settings.host
	}

	var arch *archive.Archiver
	switch settings.storage.Backend {
	case "fs", "":
		arch, err = archive.NewArchiver(cfg, settings.storage.Path)
	case "s3":
		bucket, prefix := archive.ParseS3Path(settings.storage.Path)
		arch, err = archive.NewS3Archiver(ctx, cfg, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       settings.storage.Region,
			Endpoint:     settings.storage.Endpoint,
			UsePathStyle: settings.storage.S3PathStyle,
		})
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s (must be fs or s3)", settings.storage.Backend)
	}
	if err != nil {
		return nil, nil, err
	}

	cleanup = iox.CloseFunc(arch)
	return persist.MultiSaver{fileSaver, arch}, cleanup, nil
}

// queueWorkflow loads the workflow graph and submits it for execution.
func queueWorkflow(ctx context.Context, client *comfy.Client, path, clientID string, logger *log.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow %s: %w", path, err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("workflow %s is not valid JSON", path)
	}

	promptID, err := client.QueuePrompt(ctx, data, clientID)
	if err != nil {
		return err
	}
	logger.Info("workflow queued", map[string]any{"prompt_id": promptID})
	return nil
}

// notifyAdapter publishes the record-saved event if an adapter is
// configured. Best effort: a failed notification is logged and counted.
func notifyAdapter(settings *runSettings, rec *types.Record, logger *log.Logger, collector *metrics.Collector) {
	if settings.adapter.Type == "" {
		return
	}

	retries := adapterredis.DefaultRetries
	if settings.adapter.Retries != nil {
		retries = *settings.adapter.Retries
	}

	var (
		a   adapter.Adapter
		err error
	)
	switch settings.adapter.Type {
	case "redis":
		a, err = adapterredis.New(adapterredis.Config{
			URL:     settings.adapter.URL,
			Channel: settings.adapter.Channel,
			Timeout: settings.adapter.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		a, err = adapterwebhook.New(adapterwebhook.Config{
			URL:     settings.adapter.URL,
			Headers: settings.adapter.Headers,
			Timeout: settings.adapter.Timeout.Duration,
			Retries: retries,
		})
	default:
		err = fmt.Errorf("unknown adapter type: %s (must be redis or webhook)", settings.adapter.Type)
	}
	if err != nil {
		collector.AdapterFailure()
		logger.Warn("adapter setup failed", map[string]any{"error": err.Error()})
		return
	}
	defer iox.DiscardClose(a)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event := adapter.FromRecord(rec, settings.source, settings.out)
	if err := a.Publish(ctx, event); err != nil {
		collector.AdapterFailure()
		logger.Warn("adapter publish failed", map[string]any{"error": err.Error()})
	}
}

// printRunResult writes a human summary to stderr so stdout stays clean
// for piped record output.
func printRunResult(rec *types.Record, outPath string, snap metrics.Snapshot) {
	fmt.Fprintf(os.Stderr, "state:    %s\n", rec.State)
	if rec.PromptID != "" {
		fmt.Fprintf(os.Stderr, "prompt:   %s\n", rec.PromptID)
	}
	fmt.Fprintf(os.Stderr, "events:   %d (%d unhandled)\n", rec.EventCount, snap.EventsUnhandled)
	fmt.Fprintf(os.Stderr, "frames:   %d (%d dropped, %d decode failures)\n",
		snap.FramesAssembled, snap.FragmentsDropped, snap.DecodeFailures)
	fmt.Fprintf(os.Stderr, "duration: %dms\n", rec.DurationMs)
	fmt.Fprintf(os.Stderr, "record:   %s\n", outPath)
}

// exitCode maps the run outcome to the documented exit codes.
func exitCode(coord *engine.Coordinator, rec *types.Record) int {
	if coord.SaveErr() != nil {
		return exitMonitorFail
	}
	switch rec.State {
	case types.StateSucceeded:
		return exitSuccess
	case types.StateFailed:
		return exitRunFailed
	}
	// No terminal event: interrupted or transport loss.
	if coord.Reason() == engine.ReasonInterrupt {
		return exitInterrupted
	}
	return exitMonitorFail
}
