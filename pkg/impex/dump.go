package impex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
)

// A dump is a magic header and a codec byte followed by frames. Each frame
// is a uvarint length and a compressed block. The blocks, decompressed and
// concatenated, are a sequence of BSON documents: for every collection a
// header {collection, indexes, count} followed by count documents.
var dumpMagic = []byte("SHDUMP1\n")

// ErrInvalidDump is returned for input that is not a dump
var ErrInvalidDump = errors.New("invalid dump")

const defaultBlockSize = 1 << 20

// maxFrameSize bounds a single compressed frame on read
const maxFrameSize = 256 << 20

// ExportOptions configures Export
type ExportOptions struct {
	Codec Codec
	// Level is the zstd level (1-19, default 3)
	Level int
	// Collections to export; empty means all
	Collections []string
	// BlockSize is the uncompressed size at which a block is flushed
	BlockSize int
}

// DefaultExportOptions returns zstd over every collection
func DefaultExportOptions() *ExportOptions {
	return &ExportOptions{
		Codec:     CodecZstd,
		Level:     3,
		BlockSize: defaultBlockSize,
	}
}

// ImportOptions configures Import
type ImportOptions struct {
	// Drop replaces collections that already exist instead of adding to them
	Drop bool
}

// Stats summarizes an export or import
type Stats struct {
	Collections     int   `json:"collections"`
	Documents       int   `json:"documents"`
	Indexes         int   `json:"indexes"`
	RawBytes        int64 `json:"rawBytes"`
	CompressedBytes int64 `json:"compressedBytes"`
}

// Export writes a dump of db to w. Each collection is read through one
// cursor, so a collection's documents are those visible when its export
// started.
func Export(ctx context.Context, db *database.Database, w io.Writer, options *ExportOptions) (*Stats, error) {
	if options == nil {
		options = DefaultExportOptions()
	}
	if options.BlockSize <= 0 {
		options.BlockSize = defaultBlockSize
	}

	c, err := newCompressor(options.Codec, options.Level)
	if err != nil {
		return nil, err
	}
	defer c.close()

	names := options.Collections
	if len(names) == 0 {
		names = db.ListCollections()
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(dumpMagic); err != nil {
		return nil, err
	}
	if err := bw.WriteByte(byte(options.Codec)); err != nil {
		return nil, err
	}

	dw := &dumpWriter{w: bw, c: c, blockSize: options.BlockSize, stats: &Stats{}}
	for _, name := range names {
		coll, err := db.GetCollection(name)
		if err != nil {
			return nil, err
		}
		if err := dw.collection(ctx, coll); err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
	}
	if err := dw.flush(); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return dw.stats, nil
}

type dumpWriter struct {
	w         *bufio.Writer
	c         *compressor
	block     bytes.Buffer
	blockSize int
	stats     *Stats
}

func (dw *dumpWriter) collection(ctx context.Context, coll *database.Collection) error {
	cursor, err := coll.Find(ctx, nil)
	if err != nil {
		return err
	}
	docs, err := cursor.All(ctx)
	if err != nil {
		return err
	}

	indexes := make([]interface{}, 0)
	for _, info := range coll.Indexes() {
		if info.Name == database.IDIndexName {
			continue
		}
		def := document.NewDocument()
		def.Set("name", info.Name)
		def.Set("key", info.Keys)
		def.Set("unique", info.Unique)
		indexes = append(indexes, def)
	}

	header := document.NewDocument()
	header.Set("collection", coll.Name())
	header.Set("indexes", indexes)
	header.Set("count", len(docs))
	if err := dw.write(header); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := dw.write(doc); err != nil {
			return err
		}
	}

	dw.stats.Collections++
	dw.stats.Indexes += len(indexes)
	dw.stats.Documents += len(docs)
	return nil
}

func (dw *dumpWriter) write(doc *document.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	dw.block.Write(data)
	if dw.block.Len() >= dw.blockSize {
		return dw.flush()
	}
	return nil
}

func (dw *dumpWriter) flush() error {
	if dw.block.Len() == 0 {
		return nil
	}
	compressed := dw.c.compress(dw.block.Bytes())
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(compressed)))
	if _, err := dw.w.Write(lenBuf[:n]); err != nil {
		return err
	}
	if _, err := dw.w.Write(compressed); err != nil {
		return err
	}
	dw.stats.RawBytes += int64(dw.block.Len())
	dw.stats.CompressedBytes += int64(n + len(compressed))
	dw.block.Reset()
	return nil
}

// Import loads a dump into db. Indexes are created before documents are
// inserted, so unique indexes reject duplicate documents in the dump.
func Import(ctx context.Context, db *database.Database, r io.Reader, options *ImportOptions) (*Stats, error) {
	if options == nil {
		options = &ImportOptions{}
	}

	br := bufio.NewReader(r)
	magic := make([]byte, len(dumpMagic)+1)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	if !bytes.Equal(magic[:len(dumpMagic)], dumpMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidDump)
	}
	codec := Codec(magic[len(dumpMagic)])
	c, err := newCompressor(codec, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	defer c.close()

	dr := &dumpReader{r: br, c: c, stats: &Stats{}}
	for {
		if err := ctx.Err(); err != nil {
			return dr.stats, err
		}
		header, err := dr.next()
		if err == io.EOF {
			return dr.stats, nil
		}
		if err != nil {
			return dr.stats, err
		}
		if err := dr.collection(ctx, db, header, options); err != nil {
			return dr.stats, err
		}
	}
}

type dumpReader struct {
	r     *bufio.Reader
	c     *compressor
	block []byte
	stats *Stats
}

// next returns the next document, reading a new frame when the current
// block is used up. io.EOF is returned only at a frame boundary.
func (dr *dumpReader) next() (*document.Document, error) {
	if len(dr.block) == 0 {
		if err := dr.readFrame(); err != nil {
			return nil, err
		}
	}
	if len(dr.block) < 4 {
		return nil, fmt.Errorf("%w: truncated document", ErrInvalidDump)
	}
	size := int(binary.LittleEndian.Uint32(dr.block))
	if size < 5 || size > len(dr.block) {
		return nil, fmt.Errorf("%w: bad document length %d", ErrInvalidDump, size)
	}
	doc, err := document.Unmarshal(dr.block[:size])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	dr.block = dr.block[size:]
	return doc, nil
}

func (dr *dumpReader) readFrame() error {
	length, err := binary.ReadUvarint(dr.r)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	if length == 0 || length > maxFrameSize {
		return fmt.Errorf("%w: bad frame length %d", ErrInvalidDump, length)
	}
	compressed := make([]byte, length)
	if _, err := io.ReadFull(dr.r, compressed); err != nil {
		return fmt.Errorf("%w: truncated frame: %v", ErrInvalidDump, err)
	}
	block, err := dr.c.decompress(compressed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	dr.stats.CompressedBytes += int64(length)
	dr.stats.RawBytes += int64(len(block))
	dr.block = block
	return nil
}

func (dr *dumpReader) collection(ctx context.Context, db *database.Database, header *document.Document, options *ImportOptions) error {
	name, _ := header.Get("collection")
	collName, ok := name.(string)
	if !ok || collName == "" {
		return fmt.Errorf("%w: collection header without a name", ErrInvalidDump)
	}
	rawCount, _ := header.Get("count")
	count, ok := document.ToInt64(rawCount)
	if !ok || count < 0 {
		return fmt.Errorf("%w: bad document count for %s", ErrInvalidDump, collName)
	}

	if options.Drop {
		if err := db.DropCollection(collName); err != nil && !database.IsNotFound(err) {
			return err
		}
	}
	coll := db.Collection(collName)

	rawIndexes, _ := header.Get("indexes")
	indexes, err := document.DocumentsFrom(rawIndexes)
	if err != nil {
		return fmt.Errorf("%w: indexes of %s: %v", ErrInvalidDump, collName, err)
	}
	for _, def := range indexes {
		key, _ := def.Get("key")
		keys, _ := key.(*document.Document)
		idxName, _ := def.Get("name")
		unique, _ := def.Get("unique")
		opts := &database.IndexOptions{}
		opts.Name, _ = idxName.(string)
		opts.Unique, _ = unique.(bool)
		if _, err := coll.CreateIndex(ctx, keys, opts); err != nil {
			return fmt.Errorf("import %s: %w", collName, err)
		}
		dr.stats.Indexes++
	}

	for i := int64(0); i < count; i++ {
		doc, err := dr.next()
		if err == io.EOF {
			return fmt.Errorf("%w: %s ends after %d of %d documents", ErrInvalidDump, collName, i, count)
		}
		if err != nil {
			return err
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("import %s: %w", collName, err)
		}
		dr.stats.Documents++
	}
	dr.stats.Collections++
	return nil
}
