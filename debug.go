package objstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andreyvit/objstore/keycodec"
)

type DumpFlags uint64

const (
	DumpStoreHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpIndexes
	DumpIndexRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of the stores in the transaction's scope as
// text. The result is a string.
func (tx *Tx) Dump(f DumpFlags) (*Request, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	return tx.dispatch(&dumpOp{flags: f, names: tx.StoreNames()})
}

type dumpOp struct {
	flags DumpFlags
	names []string
}

func (op *dumpOp) String() string {
	return fmt.Sprintf("DUMP %v", op.names)
}

func (op *dumpOp) do(oc *opContext) (any, error) {
	var buf strings.Builder
	for _, name := range op.names {
		sd := oc.schema.store(name)
		if sd == nil {
			continue
		}
		if err := oc.dumpStore(&buf, op.flags, sd); err != nil {
			return nil, err
		}
	}
	return buf.String(), nil
}

func (oc *opContext) dumpStore(w *strings.Builder, f DumpFlags, sd *storeDef) error {
	prefix := sd.Name
	s, err := oc.storeStats(sd)
	if err != nil {
		return err
	}

	if f.Contains(DumpStoreHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records)\n", prefix, s.Records)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_rows = %d, data_size = %d, data_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", prefix, s.IndexRows, s.DataSize, s.DataAlloc, s.IndexSize, s.IndexAlloc, s.TotalAlloc())
	}

	if f.Contains(DumpRecords) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		dataB, err := oc.dataBucket(sd)
		if err != nil {
			return err
		}
		c := oc.scan(dataB, RawOO())
		var pos int
		for c.Next() {
			pos++
			dumpRecord(w, prefix, pos, c.Key(), c.Value())
		}
		c.Close()
		if err := c.Err(); err != nil {
			return err
		}
	}

	if f.Contains(DumpIndexes) {
		for _, idx := range sd.indexList() {
			if err := oc.dumpIndex(w, prefix, f, sd, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (oc *opContext) dumpIndex(w *strings.Builder, prefix string, f DumpFlags, sd *storeDef, idx *indexDef) error {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + idx.Name
	var opts []string
	if idx.Unique {
		opts = append(opts, " unique")
	}
	if idx.MultiEntry {
		opts = append(opts, " multi")
	}
	fmt.Fprintf(w, "%s (#%d, %s)%s\n", prefix, idx.ID, idx.keyPath, strings.Join(opts, ""))

	if !f.Contains(DumpIndexRows) {
		return nil
	}
	buck, err := oc.indexBucket(sd, idx)
	if err != nil {
		return err
	}
	c := oc.scan(buck, RawOO())
	defer c.Close()
	var pos int
	for c.Next() {
		pos++
		ik, pk, err := parseIndexRow(c.Key())
		if err != nil {
			fmt.Fprintf(w, "%s.%d: ** ERROR: %v\n", prefix, pos, err)
			continue
		}
		fmt.Fprintf(w, "%s.%d: %v => %v\n", prefix, pos, ik, pk)
	}
	return c.Err()
}

func dumpRecord(w *strings.Builder, prefix string, pos int, k, v []byte) {
	key, err := keycodec.Parse(k)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = ** ERROR: %v\n", prefix, pos, err)
		return
	}
	var rec record
	if err := rec.decode(v); err != nil {
		fmt.Fprintf(w, "%s.%d %v = ** ERROR: %v\n", prefix, pos, key, err)
		return
	}
	gv, err := rec.decodeValue()
	if err != nil {
		fmt.Fprintf(w, "%s.%d %v = (%s) ** ERROR: %v\n", prefix, pos, key, rec.Flags.encoding(), err)
		return
	}
	var gen string
	if rec.generatedKey() {
		gen = " gen"
	}
	fmt.Fprintf(w, "%s.%d %v = (%s%s) %s\n", prefix, pos, key, rec.Flags.encoding(), gen, loggableValue(gv))
}

// loggableValue renders a decoded value as JSON for logs and dumps.
func loggableValue(v any) string {
	if v == nil {
		return "<none>"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
