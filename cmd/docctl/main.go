// Command docctl operates on document tables: it creates schema, runs
// searches and moves tables in and out of zstd NDJSON archives in the
// configured blob store.
//
//	docctl [-config docrepo.yaml] schema   -table some_entity [-index]
//	docctl [-config docrepo.yaml] search   -table some_entity [-where fragment] [-like json] [-limit n] [params...]
//	docctl [-config docrepo.yaml] export   -table some_entity -key archives/some_entity.ndjson.zst
//	docctl [-config docrepo.yaml] import   -table some_entity -key archives/some_entity.ndjson.zst
//	docctl [-config docrepo.yaml] archives [-prefix archives/]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"docrepo/internal/blob"
	"docrepo/internal/core"
	"docrepo/pkg/domain"
	"docrepo/pkg/repository"
)

var (
	exitFunc  = os.Exit
	openStore = core.OpenDocumentStore
	openBlobs = blob.Open
)

const usage = "usage: docctl [-config file] <schema|search|export|import|archives> [flags]"

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("docctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var configPath string
	fs.StringVar(&configPath, "config", "", "path to YAML config (default $"+core.ConfigEnv+")")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		_, _ = fmt.Fprintln(stderr, usage)
		return 2
	}
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docctl: %v\n", err)
		return 1
	}
	logger, err := core.NewLogger(cfg.Log, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docctl: %v\n", err)
		return 1
	}
	app := &app{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}

	ctx := context.Background()
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "schema":
		err = app.schema(ctx, cmdArgs)
	case "search":
		err = app.search(ctx, cmdArgs)
	case "export":
		err = app.export(ctx, cmdArgs)
	case "import":
		err = app.importArchive(ctx, cmdArgs)
	case "archives":
		err = app.archives(ctx, cmdArgs)
	default:
		_, _ = fmt.Fprintf(stderr, "docctl: unknown command %q\n%s\n", cmd, usage)
		return 2
	}
	if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docctl %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

type app struct {
	cfg    *core.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("docctl "+name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) requireTable(fs *flag.FlagSet, table string) error {
	if table == "" {
		_, _ = fmt.Fprintln(a.stderr, "-table is required")
		fs.Usage()
		return errUsage
	}
	return domain.ValidateTable(table)
}

func (a *app) withStore(ctx context.Context, fn func(domain.DocumentStore) error) (err error) {
	store, err := openStore(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()
	return fn(store)
}

func (a *app) schema(ctx context.Context, args []string) error {
	fs := a.flags("schema")
	table := fs.String("table", "", "table to create")
	index := fs.Bool("index", false, "also create the document index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireTable(fs, *table); err != nil {
		return err
	}
	return a.withStore(ctx, func(store domain.DocumentStore) error {
		if err := store.CreateTable(ctx, *table); err != nil {
			return err
		}
		if *index {
			if err := store.CreateIndex(ctx, *table); err != nil {
				return err
			}
		}
		a.logger.Info("schema ready", "table", *table, "driver", a.cfg.Storage.Driver, "index", *index)
		_, err := fmt.Fprintf(a.stdout, "table %s ready\n", *table)
		return err
	})
}

type rowLine struct {
	ID       int64           `json:"id"`
	Version  int64           `json:"version"`
	Document json.RawMessage `json:"document"`
}

func (a *app) search(ctx context.Context, args []string) error {
	fs := a.flags("search")
	table := fs.String("table", "", "table to search")
	where := fs.String("where", "", "predicate fragment in the store's dialect")
	like := fs.String("like", "", "JSON example document for a containment search")
	limit := fs.Int("limit", 0, "maximum rows (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireTable(fs, *table); err != nil {
		return err
	}
	if *where != "" && *like != "" {
		return fmt.Errorf("-where and -like are exclusive")
	}
	if *like != "" && !json.Valid([]byte(*like)) {
		return fmt.Errorf("-like is not valid JSON")
	}
	return a.withStore(ctx, func(store domain.DocumentStore) error {
		q := domain.Query{Predicate: *where, Params: parseParams(fs.Args()), Limit: *limit}
		if *like != "" {
			q = domain.Query{Predicate: store.LikePredicate(), Params: []any{*like}, Limit: *limit}
		}
		rows, err := store.Search(ctx, *table, q)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(a.stdout)
		for _, row := range rows {
			if err := enc.Encode(rowLine{ID: row.Identity, Version: row.Version, Document: row.Document}); err != nil {
				return err
			}
		}
		a.logger.Debug("search", "table", *table, "rows", len(rows))
		return nil
	})
}

// parseParams turns positional arguments into bind parameters: integers,
// floats and booleans keep their type, everything else is a string.
func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
			params = append(params, n)
			continue
		}
		if f, err := strconv.ParseFloat(arg, 64); err == nil {
			params = append(params, f)
			continue
		}
		if arg == "true" || arg == "false" {
			params = append(params, arg == "true")
			continue
		}
		params = append(params, arg)
	}
	return params
}

func (a *app) archiveFlags(name string, args []string) (table, key string, err error) {
	fs := a.flags(name)
	fs.StringVar(&table, "table", "", "table to "+name)
	fs.StringVar(&key, "key", "", "archive blob key")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if err := a.requireTable(fs, table); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(key) == "" {
		key = table + ".ndjson.zst"
	}
	if err := blob.ValidateKey(key); err != nil {
		_, _ = fmt.Fprintln(a.stderr, err)
		fs.Usage()
		return "", "", errUsage
	}
	return table, key, nil
}

func (a *app) export(ctx context.Context, args []string) error {
	table, key, err := a.archiveFlags("export", args)
	if err != nil {
		return err
	}
	blobs, err := openBlobs(ctx, a.cfg.Blob)
	if err != nil {
		return err
	}
	return a.withStore(ctx, func(store domain.DocumentStore) error {
		info, n, err := repository.Export(ctx, store, table, blobs, key)
		if err != nil {
			return err
		}
		a.logger.Info("exported", "table", table, "rows", n, "key", info.Key, "bytes", info.Size)
		_, err = fmt.Fprintf(a.stdout, "exported %d rows from %s to %s\n", n, table, info.Key)
		return err
	})
}

func (a *app) importArchive(ctx context.Context, args []string) error {
	table, key, err := a.archiveFlags("import", args)
	if err != nil {
		return err
	}
	blobs, err := openBlobs(ctx, a.cfg.Blob)
	if err != nil {
		return err
	}
	return a.withStore(ctx, func(store domain.DocumentStore) error {
		if err := store.CreateTable(ctx, table); err != nil {
			return err
		}
		n, err := repository.Import(ctx, store, table, blobs, key)
		if err != nil {
			return fmt.Errorf("after %d rows: %w", n, err)
		}
		a.logger.Info("imported", "table", table, "rows", n, "key", key)
		_, err = fmt.Fprintf(a.stdout, "imported %d rows into %s from %s\n", n, table, key)
		return err
	})
}

func (a *app) archives(ctx context.Context, args []string) error {
	fs := a.flags("archives")
	prefix := fs.String("prefix", "", "only list keys with this prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}
	blobs, err := openBlobs(ctx, a.cfg.Blob)
	if err != nil {
		return err
	}
	infos, err := blobs.List(ctx, *prefix)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.ContentType != "" && info.ContentType != repository.ArchiveContentType {
			continue
		}
		if _, err := fmt.Fprintf(a.stdout, "%s\t%d\t%s\t%s\n", info.Key, info.Size, info.Metadata[repository.ArchiveTableKey], info.Metadata[repository.ArchiveRowsKey]); err != nil {
			return err
		}
	}
	return nil
}
