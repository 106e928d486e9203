// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbase/neurostore-ingest/config"
	"github.com/kbase/neurostore-ingest/gather"
	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/metrics"
	"github.com/kbase/neurostore-ingest/pipeline"
	"github.com/kbase/neurostore-ingest/runlog"
)

func usage() {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "%s [-stages s1,s2,...] <config_file>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "<config_file> is a YAML file with a top-level 'pipeline' section.\n")
	os.Exit(1)
}

func enableLogging() {
	logLevel := new(slog.LevelVar)
	if config.Pipeline.Debug {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(slog.LevelInfo)
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
	slog.Debug("Debug logging enabled.")
}

func main() {
	stageOverride := flag.String("stages", "", "comma-separated stage subset overriding the config file's pipeline.stages")
	flag.Parse()

	// the one positional argument is the configuration filename
	if flag.NArg() < 1 {
		usage()
	}
	configFile := flag.Arg(0)

	log.Printf("Reading configuration from '%s'...\n", configFile)
	file, err := os.Open(configFile)
	if err != nil {
		log.Panicf("Couldn't open %s: %s\n", configFile, err.Error())
	}
	defer file.Close()
	b, err := io.ReadAll(file)
	if err != nil {
		log.Panicf("Couldn't read configuration data: %s\n", err.Error())
	}
	if err := config.Init(b); err != nil {
		log.Panicf("Couldn't initialize the configuration: %s\n", err.Error())
	}
	if *stageOverride != "" {
		config.Pipeline.Stages = splitCSV(*stageOverride)
	}

	enableLogging()

	if err := runlog.Init(); err != nil {
		log.Panicf("Couldn't open the run log: %s\n", err.Error())
	}

	if config.Pipeline.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(config.Pipeline.MetricsAddr, mux); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
		slog.Info("serving metrics", "addr", config.Pipeline.MetricsAddr)
	}

	p, err := pipeline.New(context.Background())
	if err != nil {
		log.Panicf("Couldn't construct the pipeline: %s\n", err.Error())
	}
	defer p.Close()

	var seeds []identifier.Identifier
	if config.Pipeline.ManifestPath != "" {
		set, err := gather.LoadManifest(config.Pipeline.ManifestPath)
		if err != nil {
			log.Panicf("Couldn't load manifest %s: %s\n", config.Pipeline.ManifestPath, err.Error())
		}
		seeds = set.Items()
	}

	// intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals so an
	// in-flight run can drain its worker pools instead of dying mid-batch.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		slog.Info("signal received, draining in-flight work")
		cancel()
	}()

	if err := p.Run(ctx, seeds); err != nil {
		runlog.Finalize()
		log.Panicf("Pipeline run failed: %s\n", err.Error())
	}

	if err := runlog.Finalize(); err != nil {
		log.Printf("Couldn't close the run log cleanly: %s\n", err.Error())
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
