package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rendis/orgimpact/internal/chart"
	"github.com/rendis/orgimpact/internal/diagram"
	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/internal/orgflow"
)

type renderOptions struct {
	format        string
	schemaVersion string
	direction     string
	maxRoles      int
	dense         bool
	collapsed     string
}

func renderCmd(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	in := fs.String("in", "-", "report JSON file (- for stdin)")
	out := fs.String("out", "-", "output file (- for stdout)")
	var opts renderOptions
	fs.StringVar(&opts.format, "format", "json", "output format: json, mermaid, ascii, png")
	fs.StringVar(&opts.schemaVersion, "schema-version", "", "report schema version (default: read from the document)")
	fs.StringVar(&opts.direction, "direction", "TB", "chart direction: TB or LR")
	fs.IntVar(&opts.maxRoles, "max-roles", 0, "roles shown inline before a node becomes a role container (0: default)")
	fs.BoolVar(&opts.dense, "dense", false, "render every node with roles as a role container")
	fs.StringVar(&opts.collapsed, "collapsed", "", "comma-separated node IDs to collapse")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r := io.Reader(os.Stdin)
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	w := io.Writer(os.Stdout)
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return render(context.Background(), opts, r, w, os.Stderr)
}

// render reads one report document from r and writes it in opts.format to w.
// Hierarchy issues are listed on diag.
func render(ctx context.Context, opts renderOptions, r io.Reader, w, diag io.Writer) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	version := opts.schemaVersion
	if version == "" {
		version = sniffVersion(payload)
	}
	report, err := normalize.Decode(version, payload)
	if err != nil {
		return err
	}

	dir, err := orgflow.ParseDirection(opts.direction)
	if err != nil {
		return err
	}
	copts := chart.Options{
		MaxRolesPerNode: opts.maxRoles,
		DenseGrouping:   opts.dense,
		Direction:       dir,
	}
	for _, id := range strings.Split(opts.collapsed, ",") {
		if id = strings.TrimSpace(id); id != "" {
			copts.CollapsedNodeIDs = append(copts.CollapsedNodeIDs, id)
		}
	}
	c, err := chart.Render(report, copts)
	if err != nil {
		return err
	}
	for _, issue := range c.Issues {
		fmt.Fprintf(diag, "warning: %s: %s\n", issue.Code, issue.Message)
	}

	switch opts.format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	case "mermaid":
		_, err = io.WriteString(w, diagram.RenderMermaid(diagram.Build(c)))
		return err
	case "ascii":
		_, err = io.WriteString(w, diagram.RenderASCII(diagram.Build(c)))
		return err
	case "png":
		png, err := diagram.RenderImage(ctx, diagram.Build(c))
		if err != nil {
			return err
		}
		_, err = w.Write(png)
		return err
	default:
		return fmt.Errorf("unknown format %q: want json, mermaid, ascii or png", opts.format)
	}
}

// sniffVersion reads the document's own schemaVersion, if any.
func sniffVersion(payload []byte) string {
	var head struct {
		SchemaVersion string `json:"schemaVersion"`
	}
	_ = json.Unmarshal(payload, &head)
	return head.SchemaVersion
}
