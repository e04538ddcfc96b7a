package objstore

import (
	"context"
	"testing"
)

func TestIndexMaintenance(t *testing.T) {
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		st := must(tx.CreateObjectStore("users", StoreOptions{KeyPath: MustKeyPath("id")}))
		must(st.CreateIndex("by_name", MustKeyPath("name"), IndexOptions{}))
	})
	update(t, db, "users", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Put(&User{ID: 1, Email: "a@example.com", Name: "ann"}))
		await[Key](t)(st.Put(&User{ID: 2, Email: "b@example.com", Name: "bob"}))
		await[Key](t)(st.Put(&User{ID: 3, Email: "c@example.com", Name: "bob"}))
	})

	view(t, db, "users", func(tx *Tx, st *ObjectStore) {
		idx := must(st.Index("by_name"))
		deepEqual(t, await[int](t)(idx.Count("bob")), 2)
		deepEqual(t, await[int](t)(idx.Count(nil)), 3)
		deepEqual(t, await[Key](t)(idx.GetKey("bob")).Value(), any(2.0))
		deepEqual(t, keyValues(await[[]Key](t)(idx.GetAllKeys("bob", 0))), []any{2.0, 3.0})
		deepEqual(t, decodeAs[User](t, db, await[any](t)(idx.Get("ann"))).ID, int64(1))
		deepEqual(t, await[any](t)(idx.Get("zed")), nil)
		deepEqual(t, len(await[[]any](t)(idx.GetAll(MustBound("a", "b", false, false), 0))), 1)
	})

	// renaming moves the row, deleting removes it
	update(t, db, "users", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Put(&User{ID: 2, Email: "b@example.com", Name: "ann"}))
		deepEqual(t, await[int](t)(st.Delete(3)), 1)
	})
	view(t, db, "users", func(tx *Tx, st *ObjectStore) {
		idx := must(st.Index("by_name"))
		deepEqual(t, await[int](t)(idx.Count("bob")), 0)
		deepEqual(t, keyValues(await[[]Key](t)(idx.GetAllKeys("ann", 0))), []any{1.0, 2.0})

		stats := await[StoreStats](t)(tx.StoreStats("users"))
		deepEqual(t, stats.Records, 2)
		deepEqual(t, stats.IndexRows, 2)
	})

	// records without a name are not indexed
	update(t, db, "users", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Put(&User{ID: 1, Email: "a@example.com"}))
		await[Key](t)(st.Put(map[string]any{"id": 4, "name": map[string]any{"first": "x"}}))
		await[Key](t)(st.Put(map[string]any{"id": 5, "name": true}))
		idx := must(st.Index("by_name"))
		deepEqual(t, await[int](t)(idx.Count(nil)), 1)
	})
}

func TestIndexClearAndDeleteRange(t *testing.T) {
	db := setupTags(t)
	update(t, db, "items", func(tx *Tx, st *ObjectStore) {
		idx := must(st.Index("tag"))
		deepEqual(t, await[int](t)(st.Delete(MustBound(2, 4, false, false))), 3)
		deepEqual(t, keyValues(await[[]Key](t)(idx.GetAllKeys(nil, 0))), []any{1.0, 5.0, 6.0})
		await[any](t)(st.Clear())
		deepEqual(t, await[int](t)(idx.Count(nil)), 0)
		await[Key](t)(st.Put(map[string]any{"tag": "q"}, 1))
		deepEqual(t, await[int](t)(idx.Count("q")), 1)
	})
}

func TestIndexUnique(t *testing.T) {
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		st := must(tx.CreateObjectStore("users", StoreOptions{KeyPath: MustKeyPath("id")}))
		must(st.CreateIndex("by_email", MustKeyPath("email"), IndexOptions{Unique: true}))
	})
	update(t, db, "users", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Put(&User{ID: 1, Email: "a@example.com"}))
		// rewriting the same record keeps its own index key
		await[Key](t)(st.Put(&User{ID: 1, Email: "a@example.com", Name: "ann"}))
		await[Key](t)(st.Put(&User{ID: 2, Email: "b@example.com"}))
	})

	err := db.Update(context.Background(), []string{"users"}, func(tx *Tx) error {
		st := must(tx.ObjectStore("users"))
		_, err := Await[Key](st.Put(&User{ID: 3, Email: "c@example.com"}))
		if err != nil {
			return err
		}
		_, err = Await[Key](st.Put(&User{ID: 2, Email: "a@example.com"}))
		return err
	})
	isKind(t, err, ErrConstraint)

	view(t, db, "users", func(tx *Tx, st *ObjectStore) {
		deepEqual(t, await[int](t)(st.Count(nil)), 2)
		idx := must(st.Index("by_email"))
		deepEqual(t, await[Key](t)(idx.GetKey("b@example.com")).Value(), any(2.0))
	})
}

func TestIndexBackfill(t *testing.T) {
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		must(tx.CreateObjectStore("users", StoreOptions{KeyPath: MustKeyPath("id")}))
	})
	update(t, db, "users", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Put(&User{ID: 1, Email: "a@example.com", Name: "ann"}))
		await[Key](t)(st.Put(&User{ID: 2, Email: "b@example.com", Name: "ann"}))
		await[Key](t)(st.Put(&User{ID: 3, Email: "c@example.com"}))
	})

	upgrade(t, db, func(tx *Tx) {
		st := must(tx.ObjectStore("users"))
		idx := must(st.CreateIndex("by_name", MustKeyPath("name"), IndexOptions{}))
		deepEqual(t, await[int](t)(idx.Count("ann")), 2)
		must(st.CreateIndex("by_email", MustKeyPath("email"), IndexOptions{Unique: true}))
		_, err := st.CreateIndex("by_email", MustKeyPath("email"), IndexOptions{})
		isKind(t, err, ErrConstraint)
		_, err = st.CreateIndex("bad", KeyPath{}, IndexOptions{})
		isKind(t, err, ErrData)
		_, err = st.CreateIndex("bad", must(ArrayKeyPath("a", "b")), IndexOptions{MultiEntry: true})
		isKind(t, err, ErrNotAllowed)
	})

	// backfilled rows are maintained like any other
	update(t, db, "users", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Put(&User{ID: 2, Email: "b@example.com", Name: "bea"}))
		idx := must(st.Index("by_name"))
		deepEqual(t, keyValues(await[[]Key](t)(idx.GetAllKeys("ann", 0))), []any{1.0})
		deepEqual(t, await[int](t)(st.Delete(1)), 1)
		deepEqual(t, await[int](t)(idx.Count(nil)), 1)
		deepEqual(t, await[int](t)(must(st.Index("by_email")).Count(nil)), 2)

		// stats see this transaction's writes: records 2 and 3, one name row
		// (3 has no name), two email rows
		stats := await[StoreStats](t)(tx.StoreStats("users"))
		deepEqual(t, stats.Records, 2)
		deepEqual(t, stats.IndexRows, 3)
	})
}

func TestIndexBackfillUniqueFailure(t *testing.T) {
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		must(tx.CreateObjectStore("users", StoreOptions{KeyPath: MustKeyPath("id")}))
	})
	update(t, db, "users", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Put(&User{ID: 1, Email: "same@example.com"}))
		await[Key](t)(st.Put(&User{ID: 2, Email: "same@example.com"}))
	})

	var st *ObjectStore
	var req *Request
	err := db.Upgrade(context.Background(), 2, func(tx *Tx) error {
		st = must(tx.ObjectStore("users"))
		must(st.CreateIndex("by_email", MustKeyPath("email"), IndexOptions{Unique: true}))
		req = must(st.Count(nil))
		return nil
	})
	isKind(t, err, ErrConstraint)
	isKind(t, req.Err(), ErrAbort)

	// the failed index is gone from the aborted transaction's view too
	deepEqual(t, st.IndexNames(), []string{})
	deepEqual(t, db.Version(), uint64(1))
	view(t, db, "users", func(tx *Tx, st *ObjectStore) {
		deepEqual(t, st.IndexNames(), []string{})
		deepEqual(t, await[int](t)(st.Count(nil)), 2)
	})
}

func TestIndexMultiEntry(t *testing.T) {
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		st := must(tx.CreateObjectStore("posts", StoreOptions{KeyPath: MustKeyPath("id")}))
		must(st.CreateIndex("tags", MustKeyPath("tags"), IndexOptions{MultiEntry: true}))
		must(st.CreateIndex("tagsets", MustKeyPath("tags"), IndexOptions{}))
	})
	update(t, db, "posts", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Put(map[string]any{"id": 1, "tags": []any{"go", "db", "go"}}))
		await[Key](t)(st.Put(map[string]any{"id": 2, "tags": []any{"db", map[string]any{"bad": true}}}))
		await[Key](t)(st.Put(map[string]any{"id": 3, "tags": "solo"}))
	})
	view(t, db, "posts", func(tx *Tx, st *ObjectStore) {
		tags := must(st.Index("tags"))
		deepEqual(t, tags.MultiEntry(), true)
		deepEqual(t, keyValues(await[[]Key](t)(tags.GetAllKeys("db", 0))), []any{1.0, 2.0})
		deepEqual(t, keyValues(await[[]Key](t)(tags.GetAllKeys("go", 0))), []any{1.0})
		deepEqual(t, keyValues(await[[]Key](t)(tags.GetAllKeys("solo", 0))), []any{3.0})
		deepEqual(t, await[int](t)(tags.Count(nil)), 4)

		// without multiEntry the whole array is the key, and an array with an
		// invalid element is not indexed at all
		tagsets := must(st.Index("tagsets"))
		deepEqual(t, keyValues(await[[]Key](t)(tagsets.GetAllKeys([]any{"go", "db", "go"}, 0))), []any{1.0})
		deepEqual(t, await[int](t)(tagsets.Count(nil)), 2)
	})
}

func TestIndexArrayKeyPath(t *testing.T) {
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		st := must(tx.CreateObjectStore("people", StoreOptions{AutoIncrement: true}))
		must(st.CreateIndex("full_name", must(ArrayKeyPath("last", "first")), IndexOptions{Unique: true}))
	})
	update(t, db, "people", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Add(map[string]any{"first": "Ada", "last": "Lovelace"}))
		await[Key](t)(st.Add(map[string]any{"first": "Alan", "last": "Turing"}))
		await[Key](t)(st.Add(map[string]any{"first": "Grace"}))
		idx := must(st.Index("full_name"))
		deepEqual(t, await[Key](t)(idx.GetKey([]any{"Turing", "Alan"})).Value(), any(2.0))
		deepEqual(t, await[int](t)(idx.Count(nil)), 2)
		deepEqual(t, idx.KeyPath().Paths(), []string{"last", "first"})
	})
}

func TestIndexDeleteAndRecreate(t *testing.T) {
	db := setupTags(t)
	upgrade(t, db, func(tx *Tx) {
		st := must(tx.ObjectStore("items"))
		must(0, st.DeleteIndex("tag"))
		idx := must(st.CreateIndex("tag", MustKeyPath("n"), IndexOptions{Unique: true}))
		deepEqual(t, await[int](t)(idx.Count(nil)), 6)
	})
	update(t, db, "items", func(tx *Tx, st *ObjectStore) {
		// rows of the deleted index recorded in envelopes are ignored
		await[Key](t)(st.Put(map[string]any{"tag": "z", "n": 100}, 1))
		deepEqual(t, await[int](t)(st.Delete(2)), 1)
		idx := must(st.Index("tag"))
		deepEqual(t, keyValues(await[[]Key](t)(idx.GetAllKeys(100, 0))), []any{1.0})
		deepEqual(t, await[int](t)(idx.Count(nil)), 5)
	})
}
