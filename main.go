/*
Copyright 2022 The l7mp/stunner team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/l7mp/livequery/internal/buildinfo"
	"github.com/l7mp/livequery/pkg/collection"
	"github.com/l7mp/livequery/pkg/metrics"
	"github.com/l7mp/livequery/pkg/pipeline"
	"github.com/l7mp/livequery/pkg/util"
	"github.com/l7mp/livequery/pkg/visualize"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	var file, graphFile, graphFormat string
	var showEvents, showMetrics, showVersion bool

	flag.StringVar(&file, "f", "-", "The document holding the objects, variables, pipeline and mutations (\"-\" for stdin).")
	flag.StringVar(&graphFile, "graph", "", "Write a diagram of the query graph to this file.")
	flag.StringVar(&graphFormat, "graph-format", "dot", "Diagram format: dot or mermaid.")
	flag.BoolVar(&showEvents, "events", false, "Print the change events of the result.")
	flag.BoolVar(&showMetrics, "metrics", false, "Print operator metrics on exit.")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit.")

	opts := zap.Options{
		Development:     true,
		DestWriter:      os.Stderr,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	info := buildinfo.New(version, commitHash, buildDate)
	if showVersion {
		fmt.Println(info.String())
		return
	}

	logger := zap.New(zap.UseFlagOptions(&opts)).WithName("livequery")
	setupLog := logger.WithName("setup")
	setupLog.V(1).Info(fmt.Sprintf("starting livequery %s", info.String()))

	if err := run(file, graphFile, graphFormat, showEvents, showMetrics, os.Stdout, logger); err != nil {
		setupLog.Error(err, "failed to run live query")
		os.Exit(1)
	}
}

func run(file, graphFile, graphFormat string, showEvents, showMetrics bool, out io.Writer, logger logr.Logger) error {
	raw, err := readInput(file)
	if err != nil {
		return err
	}

	doc, err := pipeline.ParseDocument(raw)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}

	src := doc.Source(collection.Options{Name: "objects", Logger: logger})
	defer src.Dispose()
	vars := doc.Variables()

	p, err := pipeline.New(src, doc.Pipeline, pipeline.Options{
		Name:    "query",
		Logger:  logger,
		Vars:    vars,
		Metrics: recorder,
	})
	if err != nil {
		return err
	}
	defer p.Dispose()

	if showEvents {
		_, sub, err := p.Observe(func(ev collection.ChangeEvent[pipeline.Object]) error {
			fmt.Fprintf(out, "  event: %s\n", ev.String())
			return nil
		})
		if err != nil {
			return err
		}
		defer sub.Cancel()
	}

	if err := printResult(out, "initial", p); err != nil {
		return err
	}

	for i, m := range doc.Mutations {
		if err := m.Apply(src, vars); err != nil {
			return fmt.Errorf("mutation %d (%s): %w", i, m.String(), err)
		}
		if err := printResult(out, m.String(), p); err != nil {
			return err
		}
	}

	if graphFile != "" {
		gen, err := visualize.NewGenerator(graphFormat)
		if err != nil {
			return err
		}
		diagram := gen.Generate(visualize.BuildGraph("query", p))
		if err := os.WriteFile(graphFile, []byte(diagram), 0o644); err != nil {
			return fmt.Errorf("failed to write diagram: %w", err)
		}
	}

	if showMetrics {
		return printMetrics(out, reg)
	}

	return nil
}

func readInput(file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func printResult(out io.Writer, title string, p *pipeline.Pipeline) error {
	items, err := p.Snapshot()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s: %d object(s)\n", title, len(items))
	for i, o := range items {
		fmt.Fprintf(out, "%d: %s\n", i, util.Stringify(o))
	}
	return nil
}

func printMetrics(out io.Writer, reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := []string{}
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				v = float64(m.GetHistogram().GetSampleCount())
			}
			fmt.Fprintf(out, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), v)
		}
	}
	return nil
}
