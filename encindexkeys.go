package objstore

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"slices"
)

// indexRow is a row key contributed by a record to the index with the given id.
type indexRow struct {
	IndexID uint64
	Row     []byte
}

type indexRows []indexRow

func compareIndexRows(a, b indexRow) int {
	if c := cmp.Compare(a.IndexID, b.IndexID); c != 0 {
		return c
	}
	return bytes.Compare(a.Row, b.Row)
}

func (rows indexRows) sort() {
	slices.SortFunc(rows, compareIndexRows)
}

func appendIndexRows(buf []byte, rows indexRows) []byte {
	var total = binary.MaxVarintLen32 + len(rows)*(binary.MaxVarintLen64+binary.MaxVarintLen32)
	for _, row := range rows {
		total += len(row.Row)
	}

	w := prealloc(buf, total)
	w.AppendUvarinti(len(rows))
	for _, row := range rows {
		w.AppendUvarint(row.IndexID)
		w.AppendVarBytes(row.Row)
	}
	return w.Trimmed()
}

func decodeIndexRows(data []byte, f func(id uint64, row []byte)) error {
	if len(data) == 0 {
		return nil
	}
	d := makeByteDecoder(data)
	n, err := d.Uvarinti()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		id, err := d.Uvarint()
		if err != nil {
			return err
		}
		row, err := d.VarBytes()
		if err != nil {
			return err
		}
		f(id, row)
	}
	return nil
}

type indexDiffer struct {
	newRows indexRows
}

func (d *indexDiffer) checkOldRow(oldID uint64, oldRow []byte) bool {
	// Look for a new row that's >= old row.
	for len(d.newRows) > 0 {
		newID := d.newRows[0].IndexID
		if oldID < newID {
			return false
		} else if oldID == newID {
			c := bytes.Compare(oldRow, d.newRows[0].Row)
			if c < 0 {
				return false
			} else if c == 0 {
				return true // found exact match
			}
		}
		d.newRows = d.newRows[1:] // shift to next new row and compare again
	}
	return false // no more new rows, so remaining old rows have been deleted
}

// findRemovedIndexRows calls removed for every row of the old index section
// that is missing from newRows. Both lists must be sorted.
func findRemovedIndexRows(oldData []byte, newRows indexRows, removed func(id uint64, row []byte)) error {
	d := indexDiffer{newRows}
	return decodeIndexRows(oldData, func(id uint64, row []byte) {
		if !d.checkOldRow(id, row) {
			removed(id, row)
		}
	})
}

// prepareToDeleteIndexRows returns a function that deletes rows from the
// buckets of the given store's indexes. Rows of indexes that no longer exist
// are skipped, their buckets are already gone.
func prepareToDeleteIndexRows(stx storageTx, sd *storeDef) (func(id uint64, row []byte), *error) {
	var curID uint64
	var buck storageBucket
	var firstErr error

	return func(id uint64, row []byte) {
		if firstErr != nil {
			return
		}
		if curID != id {
			curID = id
			if idx := sd.indexByID(id); idx != nil {
				buck = stx.Bucket(sd.bucketName(), idx.bucketName())
			} else {
				buck = nil
			}
		}
		if buck != nil {
			if err := buck.Delete(row); err != nil {
				firstErr = err
			}
		}
	}, &firstErr
}
