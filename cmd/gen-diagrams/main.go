// gen-diagrams generates sample chart outputs for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rendis/orgimpact/internal/chart"
	"github.com/rendis/orgimpact/internal/diagram"
	"github.com/rendis/orgimpact/internal/orgflow"
	"github.com/rendis/orgimpact/pkg/schema"
)

func node(id, name, parent string, headcount, automation float64, roles ...string) schema.HierarchyNode {
	n := schema.HierarchyNode{
		ID:              id,
		Name:            name,
		Headcount:       schema.Ptr(headcount),
		AutomationShare: schema.Ptr(automation),
		DominantRoleIDs: roles,
	}
	if parent != "" {
		n.ParentID = schema.Ptr(parent)
	}
	return n
}

func main() {
	// Small company: engineering with two teams, support with a dense role mix.
	report := &schema.OrgReport{
		SchemaVersion: schema.ReportVersionV2,
		Metadata:      schema.ReportMetadata{CompanyName: "Acme Robotics", CompanyDomain: "acme.example"},
		Hierarchy: []schema.HierarchyNode{
			node("root", "Acme Robotics", "", 420, 0.31, "11-1021.00"),
			node("eng", "Engineering", "root", 180, 0.42),
			node("platform", "Platform", "eng", 70, 0.48, "15-1252.00", "15-1244.00"),
			node("firmware", "Firmware", "eng", 110, 0.37, "11-9041.00"),
			node("support", "Customer Support", "root", 160, 0.55,
				"43-4051.00", "15-1232.00", "43-9021.00"),
			node("finance", "Finance", "root", 80, 0.28, "13-2011.00"),
		},
		Roles: []schema.Role{
			{OnetCode: "11-1021.00", Title: "General and Operations Managers"},
			{OnetCode: "15-1252.00", Title: "Software Developers"},
			{OnetCode: "15-1244.00", Title: "Network and Computer Systems Administrators"},
			{OnetCode: "11-9041.00", Title: "Architectural and Engineering Managers"},
			{OnetCode: "43-4051.00", Title: "Customer Service Representatives"},
			{OnetCode: "15-1232.00", Title: "Computer User Support Specialists"},
			{OnetCode: "43-9021.00", Title: "Data Entry Keyers"},
			{OnetCode: "13-2011.00", Title: "Accountants and Auditors"},
		},
	}

	c, err := chart.Render(report, chart.Options{Direction: orgflow.DirectionTB})
	if err != nil {
		fmt.Fprintf(os.Stderr, "render error: %v\n", err)
		os.Exit(1)
	}
	model := diagram.Build(c)

	outDir := filepath.Join("docs", "assets")
	os.MkdirAll(outDir, 0o755)

	ascii := diagram.RenderASCII(model)
	os.WriteFile(filepath.Join(outDir, "chart-ascii.txt"), []byte(ascii), 0o644)
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	os.WriteFile(filepath.Join(outDir, "chart-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644)
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	png, imgErr := diagram.RenderImage(context.Background(), model)
	if imgErr != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", imgErr)
	} else {
		pngPath := filepath.Join(outDir, "chart-sample.png")
		os.WriteFile(pngPath, png, 0o644)
		fmt.Printf("=== Image (PNG) ===\nWritten: %s (%d bytes)\n", pngPath, len(png))
	}
}
