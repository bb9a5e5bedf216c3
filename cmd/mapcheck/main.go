package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/AaronLay10/soundstage/internal/script"
)

// mapcheck validates a data map without repairing it. It exits 1 when the
// map has problems so it can gate a commit hook or CI job.
func main() {
	dataMap := flag.String("data_map", "", "directory containing map.json")
	asJSON := flag.Bool("json", false, "print the report as a JSON object")
	flag.Parse()

	if *dataMap == "" {
		log.Fatal("usage: mapcheck --data_map <dir> [--json]")
	}

	report, err := check(*dataMap)
	if err != nil {
		log.Fatal(err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatal(err)
		}
	} else {
		for _, k := range report.Keys() {
			fmt.Printf("%s: %s\n", k, report[k])
		}
		if len(report) == 0 {
			fmt.Println("ok")
		}
	}

	if len(report) > 0 {
		os.Exit(1)
	}
}

// check runs the dry-run validation and, for the entries that survive it,
// the cross-reference check against sound, art and scene ids.
func check(dir string) (script.Report, error) {
	raw, err := script.ReadRaw(dir)
	if err != nil {
		return nil, err
	}

	_, report := script.ValidateDryRun(raw, nil)

	repaired, _ := script.Validate(raw, nil)
	m, err := script.Compile(repaired)
	if err != nil {
		return nil, err
	}
	for k, v := range script.CheckReferences(m) {
		report[k] = v
	}
	return report, nil
}
