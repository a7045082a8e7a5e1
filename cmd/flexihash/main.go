// Command flexihash looks up resources on a consistent hashing ring built from
// a YAML config, or reports how lookups move when the ring changes.
//
//	flexihash -config ring.yaml -n 2 user:1 user:2
//	flexihash -targets a,b,c=2 -report
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bitleak/go-flexihash"
)

func main() {
	configPath := flag.String("config", "", "path of the YAML ring config")
	targets := flag.String("targets", "", "comma-separated targets overriding the config, e.g. a,b=2,c")
	hasher := flag.String("hasher", "", "hasher overriding the config: crc32, md5, fnv1a64, xxh3, xxhash")
	count := flag.Int("n", 1, "number of targets to return per resource")
	doReport := flag.Bool("report", false, "report key movement and distribution instead of looking up")
	lookups := flag.Int("lookups", 1000, "synthetic keys used by -report")
	flag.Parse()

	if err := run(*configPath, *targets, *hasher, *count, *doReport, *lookups, flag.Args()); err != nil {
		slog.Error("flexihash failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath, targets, hasher string, count int, doReport bool, lookups int, resources []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := initLogger(&cfg.Logger); err != nil {
		return err
	}
	if targets != "" {
		if cfg.Targets, err = parseTargets(targets); err != nil {
			return err
		}
	}
	if hasher != "" {
		cfg.Hasher = hasher
	}

	if doReport {
		slog.Info("building report", "hasher", cfg.Hasher, "replicas", cfg.Replicas, "targets", len(cfg.Targets), "lookups", lookups)
		if err := report(os.Stdout, cfg.buildRing, lookups); err != nil {
			return err
		}
		hasherSpeed(os.Stdout, 100000)
		return nil
	}

	ring, err := cfg.buildRing()
	if err != nil {
		return err
	}
	slog.Debug("ring built", "hasher", cfg.Hasher, "replicas", ring.Replicas(), "targets", ring.Targets())
	if ring.Len() == 0 {
		return flexihash.ErrEmptyRing
	}
	for _, resource := range resources {
		fmt.Printf("%s -> %s\n", resource, strings.Join(ring.LookupList(resource, count), ","))
	}
	return nil
}
