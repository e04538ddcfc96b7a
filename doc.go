/*
Package objstore implements an embedded, transactional store of keyed
records on top of a sorted key-value store (Bolt by default, Pebble and
Badger are supported too).

We implement:

1. Object stores, collections of arbitrary values keyed by an
order-preserving binary key (see package keycodec). Keys are passed
explicitly, extracted from values via a key path, or generated.

2. Indexes, allowing lookup of records by values found at a key path.
Indexes can be unique and multi-entry.

3. Transactions with a scope of object stores and a mode (readonly,
readwrite, versionchange). Every call on a transaction returns a Request
that resolves when a worker goroutine executes it; requests of a
transaction run strictly in the order they were issued. A failed request
aborts the transaction and rolls back everything it did.

4. Cursors walking a key range of a store or an index in either direction.

# Technical Details

**Buckets.**
Every object store gets a root bucket named after its id ("store:<id>")
with nested buckets: "data" (records), "gen" (key generator state) and
"index:<id>" for each index. Flat backends simulate nested buckets with
key prefixes. The schema (stores, indexes, version) is a msgpack document
in the "meta" bucket.

**Ids.**
Store and index ids are never reused, even after deletion.

**Record**: flags, data size, index size (uvarints), then serialized value,
then the index rows contributed by the record, then (optionally) an
xxhash64 checksum of the value.

**Index rows** inside a record let us remove exactly the rows the record
contributed, even if the value can no longer be decoded the same way.
Format:
1. Number of entries (uvarint).
2. For each entry: index id (uvarint), row length (uvarint), row bytes.

**Index bucket keys** are escape(index key) 0x00 0x01 primary key, where
escape replaces 0x00 with 0x00 0xFF. Rows sort by index key, then by
primary key, and all rows of an index key share a prefix.
*/
package objstore
