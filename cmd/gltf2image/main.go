// Command gltf2image renders glTF files to PNG images, or serves renders over HTTP.
//
//	gltf2image render [flags] file.gltf...
//	gltf2image serve [flags]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/gltf2image/api"
	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/Carmen-Shannon/gltf2image/server"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "render":
		err = runRender(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "gltf2image:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  gltf2image render [flags] file.gltf|file.glb...")
	fmt.Fprintln(w, "  gltf2image serve [flags]")
	fmt.Fprintln(w, "run a command with -h for its flags")
}

// commonFlags are the flags shared by every subcommand. Only flags set on the command line
// override the configuration file.
type commonFlags struct {
	fs         *flag.FlagSet
	configPath string
	overrides  map[string]func(*Config)
}

func newCommonFlags(name string) *commonFlags {
	f := &commonFlags{
		fs:        flag.NewFlagSet(name, flag.ContinueOnError),
		overrides: make(map[string]func(*Config)),
	}
	def := DefaultConfig()
	f.fs.StringVar(&f.configPath, "config", "", "TOML configuration file")

	backend := f.fs.String("backend", def.Backend, "renderer backend: wgpu or software")
	f.overrides["backend"] = func(c *Config) { c.Backend = *backend }
	fallback := f.fs.Bool("force-software-adapter", def.ForceSoftwareAdapter, "ask wgpu for a software adapter")
	f.overrides["force-software-adapter"] = func(c *Config) { c.ForceSoftwareAdapter = *fallback }
	resourceDir := f.fs.String("resource-dir", def.ResourceDir, "directory external glTF resources are read from")
	f.overrides["resource-dir"] = func(c *Config) { c.ResourceDir = *resourceDir }
	decodeWorkers := f.fs.Int("decode-workers", def.DecodeWorkers, "concurrent texture decodes per asset")
	f.overrides["decode-workers"] = func(c *Config) { c.DecodeWorkers = *decodeWorkers }
	logLevel := f.fs.String("log-level", def.LogLevel, "debug, info, warn or error")
	f.overrides["log-level"] = func(c *Config) { c.LogLevel = *logLevel }
	logFormat := f.fs.String("log-format", def.LogFormat, "text or json")
	f.overrides["log-format"] = func(c *Config) { c.LogFormat = *logFormat }
	return f
}

// parse parses args and returns the file configuration with the set flags applied.
func (f *commonFlags) parse(args []string) (Config, error) {
	if err := f.fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = LoadConfig(f.configPath); err != nil {
			return Config{}, err
		}
	}
	f.fs.Visit(func(fl *flag.Flag) {
		if apply, ok := f.overrides[fl.Name]; ok {
			apply(&cfg)
		}
	})
	return cfg, cfg.Validate()
}

// createContext builds the logger and the render context described by cfg.
func createContext(cfg Config) (*api.Context, *slog.Logger, error) {
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.ContextOptions(logger)
	if err != nil {
		return nil, nil, err
	}
	ctx, res := api.CreateContext(opts...)
	if res != api.Success {
		return nil, nil, fmt.Errorf("failed to create render context: %w", res.Err())
	}
	return ctx, logger, nil
}

// ── render ──────────────────────────────────────────────────────────────

func runRender(args []string) error {
	f := newCommonFlags("render")
	def := DefaultConfig()
	width := f.fs.Uint("width", uint(def.Render.Width), "output width in pixels")
	f.overrides["width"] = func(c *Config) { c.Render.Width = uint32(*width) }
	height := f.fs.Uint("height", uint(def.Render.Height), "output height in pixels")
	f.overrides["height"] = func(c *Config) { c.Render.Height = uint32(*height) }
	outDir := f.fs.String("out", def.Render.OutDir, "output directory")
	f.overrides["out"] = func(c *Config) { c.Render.OutDir = *outDir }
	workers := f.fs.Int("workers", def.Render.Workers, "files read and encoded concurrently")
	f.overrides["workers"] = func(c *Config) { c.Render.Workers = *workers }
	combine := f.fs.String("combine", "", "render all files together into this PNG")

	cfg, err := f.parse(args)
	if err != nil {
		return err
	}
	files := f.fs.Args()
	if len(files) == 0 {
		return errors.New("no input files")
	}
	if cfg.ResourceDir == "" {
		cfg.ResourceDir = filepath.Dir(files[0])
	}

	ctx, logger, err := createContext(cfg)
	if err != nil {
		return err
	}
	defer ctx.Destroy()

	if *combine != "" {
		return renderCombined(ctx, cfg.Render, files, *combine)
	}
	return renderEach(ctx, logger, cfg.Render, files)
}

// renderEach renders every file on its own. Reading and encoding run on a worker pool;
// the renders themselves serialize on the context.
func renderEach(ctx *api.Context, logger *slog.Logger, cfg RenderConfig, files []string) error {
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	pool := worker.NewDynamicWorkerPool(max(1, cfg.Workers), len(files), 1*time.Second)
	errs := make([]error, len(files))

	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		pool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				defer func() {
					if p := recover(); p != nil {
						errs[i] = fmt.Errorf("%s: panic: %v", file, p)
					}
				}()

				start := time.Now()
				out := filepath.Join(cfg.OutDir, strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))+".png")
				if err := renderFile(ctx, cfg.Width, cfg.Height, []string{file}, out); err != nil {
					errs[i] = err
					return nil, err
				}
				logger.Info("rendered", "file", file, "out", out, "elapsed", time.Since(start))
				return out, nil
			},
		})
	}
	wg.Wait()

	return errors.Join(errs...)
}

// renderCombined renders all files into one image. Exactly one camera must exist across them.
func renderCombined(ctx *api.Context, cfg RenderConfig, files []string, out string) error {
	return renderFile(ctx, cfg.Width, cfg.Height, files, out)
}

// renderFile loads files, renders them together, writes a PNG and destroys the assets again.
func renderFile(ctx *api.Context, width, height uint32, files []string, out string) (err error) {
	handles := make([]api.AssetHandle, 0, len(files))
	defer func() {
		for _, h := range handles {
			if res := ctx.DestroyAsset(h); res != api.Success && err == nil {
				err = fmt.Errorf("failed to destroy asset: %w", res.Err())
			}
		}
	}()

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		h, res := ctx.LoadAsset(data)
		if res != api.Success {
			return fmt.Errorf("%s: %s: %w", file, res, res.Err())
		}
		handles = append(handles, h)
	}

	pix := make([]byte, common.RGBABufferSize(width, height))
	if res := ctx.RenderSync(width, height, handles, pix); res != api.Success {
		return fmt.Errorf("%s: %s: %w", strings.Join(files, ", "), res, res.Err())
	}

	fp, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := common.EncodePNG(fp, width, height, pix); err != nil {
		fp.Close()
		return fmt.Errorf("failed to encode %s: %w", out, err)
	}
	return fp.Close()
}

// ── serve ───────────────────────────────────────────────────────────────

func runServe(args []string) error {
	f := newCommonFlags("serve")
	def := DefaultConfig()
	addr := f.fs.String("addr", def.Server.Addr, "listen address")
	f.overrides["addr"] = func(c *Config) { c.Server.Addr = *addr }
	maxDim := f.fs.Uint("max-dimension", uint(def.Server.MaxDimension), "largest accepted width or height")
	f.overrides["max-dimension"] = func(c *Config) { c.Server.MaxDimension = uint32(*maxDim) }
	maxInFlight := f.fs.Int("max-in-flight", def.Server.MaxInFlight, "concurrent renders before requests get 503")
	f.overrides["max-in-flight"] = func(c *Config) { c.Server.MaxInFlight = *maxInFlight }

	cfg, err := f.parse(args)
	if err != nil {
		return err
	}

	ctx, logger, err := createContext(cfg)
	if err != nil {
		return err
	}
	defer ctx.Destroy()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.NewServer(ctx,
			server.WithLogger(logger.With("component", "http")),
			server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
			server.WithMaxDimension(cfg.Server.MaxDimension),
			server.WithMaxInFlight(cfg.Server.MaxInFlight),
		).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
