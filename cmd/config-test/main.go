package main

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"sort"

	"github.com/chrissnell/alphastep/pkg/config"
)

func main() {
	var (
		yamlFile   = flag.String("yaml", "", "Path to YAML configuration file")
		sqliteFile = flag.String("sqlite", "", "Path to SQLite configuration file (optional)")
	)
	flag.Parse()

	if *yamlFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -yaml <config.yaml> [-sqlite <config.db>]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("Configuration Test")
	fmt.Println("==================")

	fmt.Printf("Loading YAML configuration: %s\n", *yamlFile)
	yamlConfig, err := config.NewYAMLProvider(*yamlFile).LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading YAML config: %v\n", err)
		os.Exit(1)
	}

	failures := validateProfiles(yamlConfig)

	if *sqliteFile != "" {
		fmt.Printf("\nLoading SQLite configuration: %s\n", *sqliteFile)
		sqliteProvider, err := config.NewSQLiteProvider(*sqliteFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating SQLite provider: %v\n", err)
			os.Exit(1)
		}
		defer sqliteProvider.Close()

		sqliteConfig, err := sqliteProvider.LoadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading SQLite config: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("\nComparison Results:")
		fmt.Println("===================")
		for _, d := range compareConfigs(yamlConfig, sqliteConfig) {
			fmt.Printf("✗ %s differs\n", d)
			failures++
		}
	}

	if failures > 0 {
		fmt.Printf("\n%d problem(s) found\n", failures)
		os.Exit(1)
	}
	fmt.Println("\n✓ Configuration OK")
}

// validateProfiles builds the engine config of every profile and prints the
// outcome. It returns the number of invalid profiles.
func validateProfiles(cfg *config.ConfigData) int {
	failures := 0
	for _, name := range profileNames(cfg) {
		a, err := cfg.Profile(name)
		if err == nil {
			_, err = a.EngineConfig()
		}
		if err != nil {
			fmt.Printf("✗ Profile %s: %v\n", name, err)
			failures++
			continue
		}
		fmt.Printf("✓ Profile %s is valid\n", name)
	}
	return failures
}

// compareConfigs returns the names of the sections that differ.
func compareConfigs(a, b *config.ConfigData) []string {
	var diffs []string
	profiles := map[string]bool{}
	for _, name := range append(profileNames(a), profileNames(b)...) {
		profiles[name] = true
	}
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pa, errA := a.Profile(name)
		pb, errB := b.Profile(name)
		if errA != nil || errB != nil || !reflect.DeepEqual(pa, pb) {
			diffs = append(diffs, "profile "+name)
		}
	}
	if !reflect.DeepEqual(a.Storage, b.Storage) {
		diffs = append(diffs, "storage")
	}
	if !reflect.DeepEqual(a.Server, b.Server) {
		diffs = append(diffs, "server")
	}
	if !reflect.DeepEqual(a.Output, b.Output) {
		diffs = append(diffs, "output")
	}
	return diffs
}

func profileNames(cfg *config.ConfigData) []string {
	names := []string{config.DefaultProfile}
	for name := range cfg.Profiles {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}
