package objstore

import "fmt"

// StoreStats reports the storage footprint of an object store. Counts and
// sizes include the transaction's own writes. Allocation sizes come from the
// backend and, for Bolt, describe the last committed state.
type StoreStats struct {
	Records   int
	IndexRows int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (ss *StoreStats) TotalSize() int64 {
	return ss.DataSize + ss.IndexSize
}

func (ss *StoreStats) TotalAlloc() int64 {
	return ss.DataAlloc + ss.IndexAlloc
}

// StoreStats computes the statistics of a store in the transaction's scope.
// The result is a StoreStats.
func (tx *Tx) StoreStats(name string) (*Request, error) {
	s, err := tx.ObjectStore(name)
	if err != nil {
		return nil, err
	}
	sd, err := s.def()
	if err != nil {
		return nil, err
	}
	return tx.dispatch(&statsOp{sd: sd})
}

type statsOp struct {
	sd *storeDef
}

func (op *statsOp) String() string {
	return fmt.Sprintf("STATS %s", op.sd.Name)
}

func (op *statsOp) do(oc *opContext) (any, error) {
	return oc.storeStats(op.sd)
}

func (oc *opContext) storeStats(sd *storeDef) (StoreStats, error) {
	dataB, err := oc.dataBucket(sd)
	if err != nil {
		return StoreStats{}, err
	}
	var result StoreStats
	result.Records, result.DataSize, err = measureBucket(dataB)
	if err != nil {
		return StoreStats{}, err
	}
	result.DataAlloc = dataB.Stats().TotalAlloc()

	for _, idx := range sd.indexList() {
		buck, err := oc.indexBucket(sd, idx)
		if err != nil {
			return StoreStats{}, err
		}
		n, size, err := measureBucket(buck)
		if err != nil {
			return StoreStats{}, err
		}
		result.IndexRows += n
		result.IndexSize += size
		result.IndexAlloc += buck.Stats().TotalAlloc()
	}
	return result, nil
}

// measureBucket counts the pairs visible to the transaction, including its
// own uncommitted writes. Backend page stats only describe committed data.
func measureBucket(b storageBucket) (n int, size int64, err error) {
	c := b.Cursor()
	defer c.Close()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		n++
		size += int64(len(k) + len(v))
	}
	return n, size, c.Err()
}
