package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mnohosten/streamhub/pkg/catalog"
	"github.com/mnohosten/streamhub/pkg/changestream"
	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/impex"
)

const (
	version = "0.1.0"
	banner  = `
╔══════════════════════════════════════╗
║        StreamHub CLI v%s          ║
║  Document store with change streams  ║
╚══════════════════════════════════════╝

Type 'help' for available commands
Type 'exit' or 'quit' to exit

`
)

var errExit = errors.New("exit")

type CLI struct {
	db          *database.Database
	hub         *changestream.Hub
	currentColl string
	in          *bufio.Scanner
	out         io.Writer

	// outMu serializes output from the prompt and watch goroutines
	outMu   sync.Mutex
	watches map[string]*changestream.ChangeStream
}

func NewCLI(in io.Reader, out io.Writer) (*CLI, error) {
	db, err := database.Open(database.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &CLI{
		db:      db,
		hub:     changestream.NewHub(db, nil),
		in:      bufio.NewScanner(in),
		out:     out,
		watches: make(map[string]*changestream.ChangeStream),
	}, nil
}

func (c *CLI) Close() error {
	for _, stream := range c.watches {
		stream.Close()
	}
	c.hub.Close()
	return c.db.Close()
}

func (c *CLI) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) Run() error {
	c.printf(banner, version)

	for {
		prompt := "streamhub> "
		if c.currentColl != "" {
			prompt = fmt.Sprintf("streamhub:%s> ", c.currentColl)
		}
		c.printf("%s", prompt)

		if !c.in.Scan() {
			break
		}
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}

		if err := c.executeCommand(line); err != nil {
			if errors.Is(err, errExit) {
				c.printf("Goodbye!\n")
				return nil
			}
			c.printf("Error: %v\n", err)
		}
	}
	return c.in.Err()
}

func (c *CLI) executeCommand(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch cmd {
	case "help", "?":
		c.printf("%s", help)
		return nil
	case "exit", "quit":
		return errExit
	case "use":
		return c.useCollection(parts)
	case "show":
		return c.showCommand(parts)
	case "insert", "find", "update", "updatemany", "delete", "deletemany", "count",
		"aggregate", "explain", "createindex", "dropindex", "getindexes", "stats":
		if c.currentColl == "" {
			return fmt.Errorf("no collection selected (use 'use <collection>' first)")
		}
		return c.collectionCommand(c.currentColl, cmd, args)
	case "seed":
		return c.seed()
	case "operations":
		return c.listOperations()
	case "run", "report":
		return c.runOperation(cmd, parts)
	case "watch":
		return c.watch(args)
	case "unwatch":
		return c.unwatch(parts)
	case "export":
		return c.exportDump(parts)
	case "import":
		return c.importDump(parts)
	case "version":
		c.printf("StreamHub CLI version %s\n", version)
		return nil
	default:
		// Try to parse as collection.method syntax
		if strings.Contains(parts[0], ".") {
			return c.parseCollectionSyntax(line)
		}
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

const help = `
StreamHub CLI Commands:

Basic Commands:
  help, ?                          Show this help message
  exit, quit                       Exit the CLI
  version                          Show CLI version
  use <collection>                 Switch to a collection
  show collections                 List all collections

Collection Operations:
  insert <json>                    Insert a document
  find [filter] [options]          Find documents; options: {"sort", "projection", "limit", "skip"}
  update <filter> <update>         Update the first matching document
  updatemany <filter> <update>     Update every matching document
  delete <filter>                  Delete the first matching document
  deletemany <filter>              Delete every matching document
  count [filter]                   Count documents
  aggregate <pipeline>             Run an aggregation pipeline
  explain <filter>                 Show the query plan

Alternative Syntax:
  <collection>.find({filter})
  <collection>.insert({document})
  <collection>.update({filter}, {update})
  <collection>.delete({filter})
  <collection>.count()

Index Management:
  createindex <keys> [options]     Create an index, e.g. createindex {"city": 1} {"unique": true}
  dropindex <name>                 Drop an index
  getindexes                       List all indexes
  stats                            Show collection statistics

Media Catalog:
  seed                             Load the sample catalog and its indexes
  operations                       List the catalog operations
  run <operation>                  Run a catalog operation
  report [name]                    Run one report, or list the reports

Change Streams:
  watch [collection] [options]     Print changes as they happen; options as for /_ws/watch
  unwatch [id]                     Stop one watch, or all of them

Dumps:
  export <file> [codec]            Write a dump (codec: zstd, snappy, none)
  import <file>                    Load a dump

Examples:
  use people
  insert {"name": "Alice", "age": 25}
  find {"age": {"$gte": 21}} {"sort": {"age": -1}, "limit": 5}
  update {"name": "Alice"} {"$inc": {"age": 1}}
  aggregate [{"$group": {"_id": "$city", "n": {"$sum": 1}}}]
  createindex {"name": 1} {"unique": true}

Note: JSON must be properly formatted with double quotes.
`

func (c *CLI) useCollection(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: use <collection>")
	}
	c.currentColl = parts[1]
	c.printf("Switched to collection '%s'\n", c.currentColl)
	return nil
}

func (c *CLI) showCommand(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: show collections")
	}
	switch strings.ToLower(parts[1]) {
	case "collections", "colls":
		names := c.db.ListCollections()
		if len(names) == 0 {
			c.printf("  (no collections)\n")
			return nil
		}
		for _, name := range names {
			coll, err := c.db.GetCollection(name)
			if err != nil {
				continue
			}
			n, _ := coll.Count(context.Background(), nil)
			c.printf("  %s (%d documents)\n", name, n)
		}
		return nil
	default:
		return fmt.Errorf("unknown show command: %s", parts[1])
	}
}

// parseCollectionSyntax handles collection.method(args)
func (c *CLI) parseCollectionSyntax(line string) error {
	dotIdx := strings.Index(line, ".")
	collName := line[:dotIdx]
	rest := line[dotIdx+1:]

	parenIdx := strings.Index(rest, "(")
	if parenIdx == -1 {
		return fmt.Errorf("invalid syntax: missing '('")
	}
	method := strings.ToLower(rest[:parenIdx])
	args := strings.TrimSpace(rest[parenIdx+1:])
	if !strings.HasSuffix(args, ")") {
		return fmt.Errorf("invalid syntax: missing ')'")
	}
	args = strings.TrimSuffix(args, ")")

	switch method {
	case "insertone":
		method = "insert"
	case "updateone":
		method = "update"
	case "deleteone":
		method = "delete"
	}
	return c.collectionCommand(collName, method, args)
}

// splitJSON splits the arguments into consecutive JSON values. Commas
// between values are allowed.
func splitJSON(args string) ([][]byte, error) {
	var values [][]byte
	rest := strings.TrimSpace(args)
	for rest != "" {
		dec := json.NewDecoder(strings.NewReader(rest))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		values = append(values, raw)
		rest = strings.TrimSpace(rest[dec.InputOffset():])
		rest = strings.TrimSpace(strings.TrimPrefix(rest, ","))
	}
	return values, nil
}

func jsonArgs(args string, min, max int) ([]*document.Document, error) {
	values, err := splitJSON(args)
	if err != nil {
		return nil, err
	}
	if len(values) < min || len(values) > max {
		return nil, fmt.Errorf("expected %d to %d JSON arguments, got %d", min, max, len(values))
	}
	docs := make([]*document.Document, len(values))
	for i, v := range values {
		if docs[i], err = document.ParseJSON(v); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func optional(docs []*document.Document, i int) *document.Document {
	if i < len(docs) {
		return docs[i]
	}
	return nil
}

func (c *CLI) collectionCommand(collName, cmd, args string) error {
	ctx := context.Background()

	switch cmd {
	case "insert":
		docs, err := jsonArgs(args, 1, 1)
		if err != nil {
			return err
		}
		if err := catalog.Validate(collName, docs[0]); err != nil {
			return err
		}
		id, err := c.db.Collection(collName).InsertOne(ctx, docs[0])
		if err != nil {
			return err
		}
		c.printf("Inserted document with _id: %v\n", id)
		return nil
	case "createindex":
		docs, err := jsonArgs(args, 1, 2)
		if err != nil {
			return err
		}
		options := &database.IndexOptions{}
		if opts := optional(docs, 1); opts != nil {
			if v, ok := opts.Get("unique"); ok {
				options.Unique, _ = v.(bool)
			}
			if v, ok := opts.Get("name"); ok {
				options.Name, _ = v.(string)
			}
		}
		name, err := c.db.Collection(collName).CreateIndex(ctx, docs[0], options)
		if err != nil {
			return err
		}
		c.printf("Created index '%s' (unique=%v)\n", name, options.Unique)
		return nil
	}

	coll, err := c.db.GetCollection(collName)
	if err != nil {
		return err
	}

	switch cmd {
	case "find":
		docs, err := jsonArgs(args, 0, 2)
		if err != nil {
			return err
		}
		options := &database.QueryOptions{}
		if opts := optional(docs, 1); opts != nil {
			if err := queryOptions(opts, options); err != nil {
				return err
			}
		}
		cursor, err := coll.FindWithOptions(ctx, optional(docs, 0), options)
		if err != nil {
			return err
		}
		results, err := cursor.All(ctx)
		if err != nil {
			return err
		}
		c.printf("Found %d document(s):\n", len(results))
		c.printDocuments(results)
		return nil
	case "update", "updatemany":
		docs, err := jsonArgs(args, 2, 2)
		if err != nil {
			return fmt.Errorf("usage: %s <filter> <update>: %w", cmd, err)
		}
		var n int
		if cmd == "update" {
			n, err = coll.UpdateOne(ctx, docs[0], docs[1])
		} else {
			n, err = coll.UpdateMany(ctx, docs[0], docs[1])
		}
		if err != nil {
			return err
		}
		c.printf("Modified %d document(s)\n", n)
		return nil
	case "delete", "deletemany":
		docs, err := jsonArgs(args, 1, 1)
		if err != nil {
			return fmt.Errorf("usage: %s <filter>: %w", cmd, err)
		}
		var n int
		if cmd == "delete" {
			n, err = coll.DeleteOne(ctx, docs[0])
		} else {
			n, err = coll.DeleteMany(ctx, docs[0])
		}
		if err != nil {
			return err
		}
		c.printf("Deleted %d document(s)\n", n)
		return nil
	case "count":
		docs, err := jsonArgs(args, 0, 1)
		if err != nil {
			return err
		}
		n, err := coll.Count(ctx, optional(docs, 0))
		if err != nil {
			return err
		}
		c.printf("Count: %d document(s)\n", n)
		return nil
	case "aggregate":
		raw, err := document.ParseJSONArray([]byte(args))
		if err != nil {
			return fmt.Errorf("pipeline must be a JSON array of stages: %w", err)
		}
		results, err := coll.Aggregate(ctx, raw)
		if err != nil {
			return err
		}
		c.printf("%d result(s):\n", len(results))
		c.printDocuments(results)
		return nil
	case "explain":
		docs, err := jsonArgs(args, 0, 1)
		if err != nil {
			return err
		}
		plan, err := coll.Explain(optional(docs, 0))
		if err != nil {
			return err
		}
		return c.printJSON(plan)
	case "dropindex":
		name := strings.TrimSpace(args)
		if name == "" {
			return fmt.Errorf("usage: dropindex <name>")
		}
		if err := coll.DropIndex(name); err != nil {
			return err
		}
		c.printf("Dropped index '%s'\n", name)
		return nil
	case "getindexes":
		c.printf("Indexes on collection '%s':\n", collName)
		return c.printJSON(coll.ListIndexes())
	case "stats":
		c.printf("Collection statistics for '%s':\n", collName)
		return c.printJSON(coll.Stats())
	default:
		return fmt.Errorf("unknown method: %s", cmd)
	}
}

func queryOptions(opts *document.Document, options *database.QueryOptions) error {
	for _, key := range opts.Keys() {
		v, _ := opts.Get(key)
		switch key {
		case "sort", "projection":
			doc, ok := v.(*document.Document)
			if !ok {
				return fmt.Errorf("%s must be a document", key)
			}
			if key == "sort" {
				options.Sort = doc
			} else {
				options.Projection = doc
			}
		case "limit", "skip":
			n, ok := document.ToInt64(v)
			if !ok || n < 0 {
				return fmt.Errorf("%s must be a non-negative integer", key)
			}
			if key == "limit" {
				options.Limit = int(n)
			} else {
				options.Skip = int(n)
			}
		default:
			return fmt.Errorf("unknown find option %q", key)
		}
	}
	return nil
}

func (c *CLI) printDocuments(docs []*document.Document) {
	for i, doc := range docs {
		data, err := doc.MarshalJSON()
		if err != nil {
			c.printf("[%d] %v\n", i+1, err)
			continue
		}
		var indented bytes.Buffer
		if json.Indent(&indented, data, "", "  ") != nil {
			indented.Reset()
			indented.Write(data)
		}
		c.printf("\n[%d] %s\n", i+1, indented.String())
	}
}

func (c *CLI) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	c.printf("%s\n", data)
	return nil
}

func (c *CLI) seed() error {
	result, err := catalog.Seed(context.Background(), c.db)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(result.Inserted))
	for name := range result.Inserted {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.printf("  %s: %d documents\n", name, result.Inserted[name])
	}
	c.printf("Created %d indexes\n", result.Indexes)
	return nil
}

func (c *CLI) listOperations() error {
	for _, op := range catalog.Operations() {
		c.printf("  %-26s %-9s %-20s %s\n", op.Name, op.Kind, op.Collection, op.Description)
	}
	return nil
}

func (c *CLI) runOperation(cmd string, parts []string) error {
	if len(parts) < 2 {
		if cmd == "report" {
			c.printf("Reports:\n")
			for _, name := range catalog.Reports() {
				c.printf("  %s\n", name)
			}
			return nil
		}
		return fmt.Errorf("usage: run <operation>")
	}

	op, ok := catalog.Lookup(parts[1])
	if !ok {
		return fmt.Errorf("unknown operation: %s", parts[1])
	}
	if cmd == "report" && op.Kind != catalog.KindAggregate {
		return fmt.Errorf("%s is not a report", op.Name)
	}
	result, err := op.Run(context.Background(), c.db)
	if err != nil {
		return err
	}
	switch op.Kind {
	case catalog.KindUpdate:
		c.printf("%s: modified %d document(s)\n", op.Name, result.Affected)
	case catalog.KindDelete:
		c.printf("%s: deleted %d document(s)\n", op.Name, result.Affected)
	default:
		c.printf("%s: %d document(s)\n", op.Name, len(result.Documents))
		c.printDocuments(result.Documents)
	}
	return nil
}

func (c *CLI) watch(args string) error {
	options := changestream.DefaultChangeStreamOptions()
	fields := strings.Fields(args)
	if len(fields) > 0 && !strings.HasPrefix(fields[0], "{") {
		options.Collection = fields[0]
		args = strings.TrimSpace(strings.TrimPrefix(args, fields[0]))
	} else if c.currentColl != "" {
		options.Collection = c.currentColl
	}
	if args != "" {
		docs, err := jsonArgs(args, 1, 1)
		if err != nil {
			return err
		}
		if err := watchOptions(docs[0], options); err != nil {
			return err
		}
	}

	stream, err := c.hub.Watch(options)
	if err != nil {
		return err
	}
	c.watches[stream.ID()] = stream

	target := options.Collection
	if target == "" {
		target = "all collections"
	}
	c.printf("Watching %s (id %s)\n", target, stream.ID())

	go func() {
		for {
			event, err := stream.Next(context.Background())
			if err != nil {
				if !errors.Is(err, changestream.ErrStreamClosed) {
					c.printf("\n[watch %s] stopped: %v (resume after %s)\n", stream.ID(), err, stream.ResumeToken())
				}
				return
			}
			c.printf("\n[watch %s] %s\n", stream.ID(), event.ToDocument())
		}
	}()
	return nil
}

func watchOptions(doc *document.Document, options *changestream.ChangeStreamOptions) error {
	if v, ok := doc.Get("operationTypes"); ok {
		types, isArray := v.([]interface{})
		if !isArray {
			return errors.New("operationTypes must be an array")
		}
		for _, t := range types {
			options.OperationTypes = append(options.OperationTypes, changestream.OperationType(fmt.Sprint(t)))
		}
	}
	if v, ok := doc.Get("filter"); ok {
		filter, isDoc := v.(*document.Document)
		if !isDoc {
			return errors.New("filter must be a document")
		}
		options.Filter = filter
	}
	if v, ok := doc.Get("fullDocument"); ok {
		options.FullDocument = changestream.FullDocumentOption(fmt.Sprint(v))
	}
	if v, ok := doc.Get("resumeAfter"); ok {
		token, err := changestream.ParseResumeToken(fmt.Sprint(v))
		if err != nil {
			return err
		}
		options.ResumeAfter = &token
	}
	return nil
}

func (c *CLI) unwatch(parts []string) error {
	if len(parts) > 1 {
		stream, ok := c.watches[parts[1]]
		if !ok {
			return fmt.Errorf("no watch with id %s", parts[1])
		}
		stream.Close()
		delete(c.watches, parts[1])
		c.printf("Stopped watch %s\n", parts[1])
		return nil
	}
	for id, stream := range c.watches {
		stream.Close()
		delete(c.watches, id)
	}
	c.printf("Stopped all watches\n")
	return nil
}

func (c *CLI) exportDump(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: export <file> [codec]")
	}
	options := impex.DefaultExportOptions()
	if len(parts) > 2 {
		codec, err := impex.ParseCodec(parts[2])
		if err != nil {
			return err
		}
		options.Codec = codec
	}

	f, err := os.Create(parts[1])
	if err != nil {
		return err
	}
	stats, err := impex.Export(context.Background(), c.db, f, options)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	c.printf("Exported %d collections, %d documents, %d indexes (%d bytes, %d raw)\n",
		stats.Collections, stats.Documents, stats.Indexes, stats.CompressedBytes, stats.RawBytes)
	return nil
}

func (c *CLI) importDump(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: import <file>")
	}
	f, err := os.Open(parts[1])
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := impex.Import(context.Background(), c.db, f, nil)
	if err != nil {
		return err
	}
	c.printf("Imported %d collections, %d documents, %d indexes\n", stats.Collections, stats.Documents, stats.Indexes)
	return nil
}

func main() {
	load := flag.String("load", "", "Load a dump at startup")
	seed := flag.Bool("seed", false, "Load the sample media catalog at startup")
	flag.Parse()

	cli, err := NewCLI(os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cli.Close()

	if *load != "" {
		if err := cli.importDump([]string{"import", *load}); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *seed {
		if err := cli.seed(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cli.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
