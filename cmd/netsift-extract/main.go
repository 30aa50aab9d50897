// Command netsift-extract reads a device configuration and prints the
// feature snapshot the analysis pipeline would derive from it, as JSON on
// stdout. It exists so operators can eyeball what the scanner will see
// without standing up the full service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/features"
	"github.com/netsift/netsift/taxonomy"
)

func main() {
	names := make([]string, 0, 5)
	for _, p := range netsift.Platforms() {
		names = append(names, string(p))
	}
	var (
		platform = flag.String("platform", string(netsift.IOSXE), "device platform, one of: "+strings.Join(names, ", "))
		hardware = flag.String("hardware", "", "hardware model hint, e.g. a 'show version' model line")
		taxDir   = flag.String("taxonomy", "", "taxonomy catalog directory; empty uses the embedded catalogs")
		pretty   = flag.Bool("pretty", false, "indent the JSON output")
	)
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage: %s [flags] [config-file]\n\n", os.Args[0])
		fmt.Fprintln(out, "Reads the running configuration from the named file, or stdin when")
		fmt.Fprintln(out, "the argument is missing or \"-\", and prints the feature snapshot.")
		fmt.Fprintln(out)
		flag.PrintDefaults()
	}
	flag.Parse()
	ctx := context.Background()

	cfg, err := readConfig(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	tax, err := loadTaxonomy(ctx, *taxDir)
	if err != nil {
		log.Fatal(err)
	}

	snap, err := features.New(tax).Extract(ctx, cfg, netsift.Platform(*platform), *hardware)
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(snap); err != nil {
		log.Fatal(err)
	}
}

func readConfig(name string) (string, error) {
	var r io.Reader = os.Stdin
	if name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func loadTaxonomy(ctx context.Context, dir string) (*taxonomy.Store, error) {
	if dir != "" {
		return taxonomy.LoadDir(ctx, dir)
	}
	return taxonomy.Default(ctx)
}
