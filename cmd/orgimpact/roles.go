package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rendis/orgimpact/internal/roles"
	"github.com/rendis/orgimpact/internal/store"
)

func importRolesCmd(args []string) error {
	fs := flag.NewFlagSet("import-roles", flag.ExitOnError)
	in := fs.String("in", "", "role catalog JSON file (default: the built-in O*NET subset)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(*in)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return importRoles(ctx, s, catalog, os.Stdout)
}

// importRoles upserts every catalog role into the job role table. Roles that
// the store rejects are reported and skipped.
func importRoles(ctx context.Context, s store.Store, catalog *roles.Catalog, out io.Writer) error {
	imported, skipped := 0, 0
	for _, role := range catalog.Roles() {
		if err := s.UpsertJobRole(ctx, &role); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "skip %q: %v\n", role.OnetCode, err)
			skipped++
			continue
		}
		imported++
	}
	fmt.Fprintf(out, "Imported %d roles (%d skipped)\n", imported, skipped)
	return nil
}
