// Command objstore inspects and edits objstore databases, and serves them
// over HTTP.
//
//	objstore -db data.db create-store -key-path id users
//	objstore -db data.db put users '{"id": 1, "name": "Alice"}'
//	objstore -db data.db get users 1
//	objstore -db data.db serve -addr 127.0.0.1:8080
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/andreyvit/objstore"
	"github.com/andreyvit/objstore/httpapi"
)

const usage = `Usage: objstore [flags] <command> [args]

Commands:
  stores                                   list object stores
  create-store [-key-path p] [-auto-increment] <store>
  delete-store <store>
  create-index [-unique] [-multi-entry] <store> <index> <key-path>
  delete-index <store> <index>
  dump [-what all|headers|stats|records|indexes] [store...]
  stats <store>
  get <store> <key>
  put <store> <json> [key]
  add <store> <json>
  delete <store> <key>
  serve [-addr host:port]

Keys are JSON values; anything else is taken as a string.

Flags:
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "objstore: %v\n", err)
		}
		os.Exit(1)
	}
}

type app struct {
	db  *objstore.DB
	log zerolog.Logger
	out io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("objstore", flag.ContinueOnError)
	dbPath := fs.String("db", "objstore.db", "database `path`: a Bolt file, a Pebble or Badger directory, or :memory:")
	backend := fs.String("backend", "bolt", "storage backend: bolt, pebble, badger or memory")
	logLevel := fs.String("log-level", defaultLogLevel(), "log `level` (default from OBJSTORE_LOG_LEVEL)")
	logFmt := fs.String("log-format", "console", "log format: console or json")
	verbose := fs.Bool("verbose", false, "log every operation")
	encName := fs.String("encoding", "msgpack", "value encoding for new records: msgpack or json")
	checksums := fs.Bool("checksums", false, "store checksums of new records")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("command required")
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	format, err := parseLogFormat(*logFmt)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, level, format)

	enc, err := objstore.ParseEncoding(*encName)
	if err != nil {
		return err
	}
	opt := objstore.Options{
		Logger:    newSlogLogger(logger.With().Str("component", "db").Logger()),
		Verbose:   *verbose,
		Encoding:  enc,
		Checksums: *checksums,
	}
	db, err := openDB(*backend, *dbPath, opt)
	if err != nil {
		return err
	}
	defer db.Close()

	a := &app{db: db, log: logger, out: out}
	cmd, cargs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "stores":
		return a.stores(ctx)
	case "create-store":
		return a.createStore(ctx, cargs)
	case "delete-store":
		return a.deleteStore(ctx, cargs)
	case "create-index":
		return a.createIndex(ctx, cargs)
	case "delete-index":
		return a.deleteIndex(ctx, cargs)
	case "dump":
		return a.dump(ctx, cargs)
	case "stats":
		return a.stats(ctx, cargs)
	case "get":
		return a.get(ctx, cargs)
	case "put":
		return a.put(ctx, cargs, false)
	case "add":
		return a.put(ctx, cargs, true)
	case "delete":
		return a.delete(ctx, cargs)
	case "serve":
		return a.serve(ctx, cargs)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func openDB(backend, path string, opt objstore.Options) (*objstore.DB, error) {
	switch backend {
	case "bolt":
		return objstore.Open(path, opt)
	case "pebble":
		return objstore.OpenPebble(path, opt)
	case "badger":
		return objstore.OpenBadger(path, opt)
	case "memory":
		return objstore.OpenMemory(opt)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func needArgs(args []string, min, max int, what string) error {
	if len(args) < min || len(args) > max {
		return fmt.Errorf("usage: %s", what)
	}
	return nil
}

func (a *app) stores(ctx context.Context) error {
	names := a.db.StoreNames()
	fmt.Fprintf(a.out, "version %d\n", a.db.Version())
	if len(names) == 0 {
		return nil
	}
	return a.db.View(ctx, names, func(tx *objstore.Tx) error {
		for _, name := range names {
			st, err := tx.ObjectStore(name)
			if err != nil {
				return err
			}
			n, err := objstore.Await[int](st.Count(nil))
			if err != nil {
				return err
			}
			var opts []string
			if kp := st.KeyPath(); !kp.IsZero() {
				opts = append(opts, "key path "+kp.String())
			}
			if st.AutoIncrement() {
				opts = append(opts, "autoincrement")
			}
			if idx := st.IndexNames(); len(idx) > 0 {
				opts = append(opts, "indexes "+strings.Join(idx, ","))
			}
			fmt.Fprintf(a.out, "%s\t%d records\t%s\n", name, n, strings.Join(opts, "; "))
		}
		return nil
	})
}

// upgrade runs f in a versionchange transaction bumping the version by one.
func (a *app) upgrade(ctx context.Context, f func(tx *objstore.Tx) error) error {
	version := a.db.Version() + 1
	if err := a.db.Upgrade(ctx, version, f); err != nil {
		return err
	}
	a.log.Info().Uint64("version", version).Msg("schema upgraded")
	return nil
}

func parseKeyPath(s string) (objstore.KeyPath, error) {
	if s == "" {
		return objstore.KeyPath{}, nil
	}
	if strings.Contains(s, ",") {
		return objstore.ArrayKeyPath(strings.Split(s, ",")...)
	}
	return objstore.ParseKeyPath(s)
}

func (a *app) createStore(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-store", flag.ContinueOnError)
	keyPath := fs.String("key-path", "", "key path, comma-separated for an array key path")
	autoInc := fs.Bool("auto-increment", false, "generate keys")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs.Args(), 1, 1, "create-store [flags] <store>"); err != nil {
		return err
	}
	kp, err := parseKeyPath(*keyPath)
	if err != nil {
		return err
	}
	return a.upgrade(ctx, func(tx *objstore.Tx) error {
		_, err := tx.CreateObjectStore(fs.Arg(0), objstore.StoreOptions{KeyPath: kp, AutoIncrement: *autoInc})
		return err
	})
}

func (a *app) deleteStore(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, 1, "delete-store <store>"); err != nil {
		return err
	}
	return a.upgrade(ctx, func(tx *objstore.Tx) error {
		return tx.DeleteObjectStore(args[0])
	})
}

func (a *app) createIndex(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-index", flag.ContinueOnError)
	unique := fs.Bool("unique", false, "reject duplicate index keys")
	multi := fs.Bool("multi-entry", false, "index every element of array values")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs.Args(), 3, 3, "create-index [flags] <store> <index> <key-path>"); err != nil {
		return err
	}
	kp, err := parseKeyPath(fs.Arg(2))
	if err != nil {
		return err
	}
	return a.upgrade(ctx, func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(fs.Arg(0))
		if err != nil {
			return err
		}
		_, err = st.CreateIndex(fs.Arg(1), kp, objstore.IndexOptions{Unique: *unique, MultiEntry: *multi})
		return err
	})
}

func (a *app) deleteIndex(ctx context.Context, args []string) error {
	if err := needArgs(args, 2, 2, "delete-index <store> <index>"); err != nil {
		return err
	}
	return a.upgrade(ctx, func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(args[0])
		if err != nil {
			return err
		}
		return st.DeleteIndex(args[1])
	})
}

var dumpModes = map[string]objstore.DumpFlags{
	"all":     objstore.DumpAll,
	"headers": objstore.DumpStoreHeaders,
	"stats":   objstore.DumpStoreHeaders | objstore.DumpStats,
	"records": objstore.DumpStoreHeaders | objstore.DumpRecords,
	"indexes": objstore.DumpStoreHeaders | objstore.DumpIndexes | objstore.DumpIndexRows,
}

func (a *app) dump(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	what := fs.String("what", "all", "what to dump: all, headers, stats, records or indexes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	flags, ok := dumpModes[*what]
	if !ok {
		return fmt.Errorf("invalid -what %q", *what)
	}
	names := fs.Args()
	if len(names) == 0 {
		names = a.db.StoreNames()
	}
	if len(names) == 0 {
		return nil
	}
	return a.db.View(ctx, names, func(tx *objstore.Tx) error {
		s, err := objstore.Await[string](tx.Dump(flags))
		if err != nil {
			return err
		}
		_, err = io.WriteString(a.out, s)
		return err
	})
}

func (a *app) stats(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, 1, "stats <store>"); err != nil {
		return err
	}
	return a.db.View(ctx, args, func(tx *objstore.Tx) error {
		ss, err := objstore.Await[objstore.StoreStats](tx.StoreStats(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "records     %d\n", ss.Records)
		fmt.Fprintf(a.out, "index rows  %d\n", ss.IndexRows)
		fmt.Fprintf(a.out, "data size   %d (alloc %d)\n", ss.DataSize, ss.DataAlloc)
		fmt.Fprintf(a.out, "index size  %d (alloc %d)\n", ss.IndexSize, ss.IndexAlloc)
		return nil
	})
}

func (a *app) get(ctx context.Context, args []string) error {
	if err := needArgs(args, 2, 2, "get <store> <key>"); err != nil {
		return err
	}
	return a.db.View(ctx, args[:1], func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(args[0])
		if err != nil {
			return err
		}
		v, err := objstore.Await[any](st.Get(httpapi.ParseKey(args[1])))
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("%s: no record with key %s", args[0], args[1])
		}
		return a.printJSON(v)
	})
}

func (a *app) put(ctx context.Context, args []string, add bool) error {
	if add {
		if err := needArgs(args, 2, 2, "add <store> <json>"); err != nil {
			return err
		}
	} else if err := needArgs(args, 2, 3, "put <store> <json> [key]"); err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	return a.db.Update(ctx, args[:1], func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(args[0])
		if err != nil {
			return err
		}
		var req *objstore.Request
		switch {
		case add:
			req, err = st.Add(value)
		case len(args) == 3:
			req, err = st.Put(value, httpapi.ParseKey(args[2]))
		default:
			req, err = st.Put(value)
		}
		key, err := objstore.Await[objstore.Key](req, err)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, key)
		return nil
	})
}

func (a *app) delete(ctx context.Context, args []string) error {
	if err := needArgs(args, 2, 2, "delete <store> <key>"); err != nil {
		return err
	}
	return a.db.Update(ctx, args[:1], func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(args[0])
		if err != nil {
			return err
		}
		n, err := objstore.Await[int](st.Delete(httpapi.ParseKey(args[1])))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "deleted %d\n", n)
		return nil
	})
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", envOrDefault("OBJSTORE_HTTP_ADDR", "127.0.0.1:8080"), "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.NewServer(a.db, a.log.With().Str("component", "http").Logger()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", *addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *app) printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%s\n", raw)
	return err
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
