package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManouchehrRasoulli/fswatchd/pkg"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/action"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/dispatcher"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/filehandler"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/logger"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/registry"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/watcher"
)

func main() {
	var config string

	flag.StringVar(&config, "config", "config.yml", "specify configuration file for service.")
	flag.StringVar(&config, "c", "config.yml", "specify configuration file for service.")
	flag.Parse()

	boot := logger.NewColorLogger(log.New(os.Stdout, "fswatchd --> ", logger.Flags))
	boot.Printcf(logger.ColorGreen, "start fswatchd : with config file %v", config)

	cfg, err := pkg.ReadConfig(config)
	if err != nil {
		boot.Printcf(logger.ColorRed, "error fswatchd : got error %v on reading configuration file %s", err, config)
		os.Exit(1)
	}

	lg, closer := logger.New(cfg.Log.Prefix, logger.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAge,
	})
	defer closer.Close()
	clg := logger.NewColorLogger(lg)
	if cfg.Log.File != "" {
		clg = logger.NewPlainLogger(lg)
	}

	clg.Printcf(logger.ColorBlue, "config fswatchd : backend: %s, workers: %d, rules: %d", cfg.Backend, cfg.Workers, len(cfg.Rules))

	source, err := newSource(cfg)
	if err != nil {
		clg.Printcf(logger.ColorRed, "error fswatchd : create %s watch source. %v", cfg.Backend, err)
		os.Exit(1)
	}

	d, err := dispatcher.New(source,
		dispatcher.WithWorkers(cfg.Workers),
		dispatcher.WithQueueSize(cfg.QueueSize),
		dispatcher.WithMailboxSize(cfg.MailboxSize),
		dispatcher.WithWalkLimit(cfg.WalkLimit),
		dispatcher.WithLogger(lg),
	)
	if err != nil {
		_ = source.Close()
		clg.Printcf(logger.ColorRed, "error fswatchd : create dispatcher. %v", err)
		os.Exit(1)
	}

	handlers := registerRules(d, cfg.Rules, lg, clg)

	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			clg.Printcf(logger.ColorBlue, "metrics fswatchd : serving on %s", cfg.MetricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				clg.Printcf(logger.ColorRed, "error fswatchd : metrics server. %v", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	clg.Printcf(logger.ColorYellow, "stop fswatchd : got signal %v", s)

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(ctx)
		cancel()
	}
	if err := d.Close(); err != nil {
		clg.Printcf(logger.ColorRed, "error fswatchd : close dispatcher. %v", err)
	}
	for _, h := range handlers {
		h.ListFiles()
	}
}

func newSource(cfg *pkg.Config) (watcher.Source, error) {
	switch cfg.Backend {
	case pkg.NotifyBackend:
		return watcher.NewNotify(watcher.WithBufferSize(cfg.BufferSize)), nil
	default:
		return watcher.NewFSNotify(watcher.WithBufferSize(cfg.BufferSize))
	}
}

// registerRules registers the actions of every rule and returns the file
// indexes it created.
func registerRules(d *dispatcher.Dispatcher, rules []pkg.Rule, lg *log.Logger, clg *logger.ColorLogger) []*filehandler.Handler {
	var handlers []*filehandler.Handler

	for _, r := range rules {
		kinds, _ := r.Kinds() // validated with the config

		var h *filehandler.Handler
		if r.Index {
			var err error
			h, err = filehandler.NewHandler(r.Path, lg)
			if err != nil {
				clg.Printcf(logger.ColorRed, "error fswatchd : index %s. %v", r.Path, err)
			} else {
				clg.Printcf(logger.ColorGreen, "index fswatchd : %d files under %s", h.Len(), h.Root())
				handlers = append(handlers, h)
			}
		}

		for _, k := range kinds {
			var cbs []registry.Callback
			if len(r.Command) > 0 {
				cb, err := action.Command(r.Command, k, lg)
				if err != nil {
					clg.Printcf(logger.ColorRed, "error fswatchd : rule %s. %v", r.Path, err)
					continue
				}
				cbs = append(cbs, cb)
			}
			if h != nil {
				if k == model.Deleted {
					cbs = append(cbs, h.Forget)
				} else {
					cbs = append(cbs, h.Track)
				}
			}

			for _, cb := range cbs {
				path, err := d.RegisterCallback(k, r.Recursive, r.Path, cb)
				if err != nil {
					clg.Printcf(logger.ColorRed, "error fswatchd : register %s on %s. %v", k, r.Path, err)
					continue
				}
				clg.Printcf(logger.ColorGreen, "rule fswatchd : %s on %s (recursive: %v)", k, path, r.Recursive)
			}
		}
	}

	return handlers
}
