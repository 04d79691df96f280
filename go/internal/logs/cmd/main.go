package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dlobba/lwb-cc2538/go/internal/logs"
)

func main() {
	format := flag.String("format", "yaml", "output format: yaml or json")
	raw := flag.Bool("raw", false, "print the parsed per-node data instead of the summary")
	offset := flag.Int("offset", logs.DefaultOffset, "floods dropped at the start and end of the run")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] logfile...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	failed := false
	for _, path := range flag.Args() {
		if err := analyse(os.Stdout, path, *format, *raw, logs.Options{Offset: *offset}); err != nil {
			log.Error().Err(err).Str("file", path).Msg("analysis failed")
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func analyse(w io.Writer, path, format string, raw bool, opts logs.Options) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	res, err := logs.Parse(f)
	if err != nil {
		return err
	}
	log.Info().
		Str("file", path).
		Int("lines", res.Lines).
		Int("nodes", len(res.Nodes)).
		Int("malformed", res.Malformed).
		Msg("parsed log")

	var out any = res
	if !raw {
		summary, err := logs.Summarize(res, opts)
		if err != nil {
			return err
		}
		out = summary
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
