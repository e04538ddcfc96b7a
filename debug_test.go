package objstore

import (
	"strings"
	"testing"
)

func TestDump(t *testing.T) {
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		st := must(tx.CreateObjectStore("users", StoreOptions{KeyPath: MustKeyPath("id"), AutoIncrement: true}))
		must(st.CreateIndex("by_email", MustKeyPath("email"), IndexOptions{Unique: true}))
	})
	update(t, db, "users", func(tx *Tx, st *ObjectStore) {
		await[Key](t)(st.Add(map[string]any{"email": "a@example.com"}))
	})

	view(t, db, "users", func(tx *Tx, st *ObjectStore) {
		dump := await[string](t)(tx.Dump(DumpAll))
		t.Logf("dump:\n%s", dump)
		for _, s := range []string{
			"users (1 records)\n",
			"users.stats: index_rows = 1, ",
			`users.1 1 = (msgpack gen) {"email":"a@example.com","id":1}` + "\n",
			"email) unique\n",
			`users.i.by_email.1: "a@example.com" => 1` + "\n",
		} {
			if !strings.Contains(dump, s) {
				t.Errorf("** dump does not contain %q", s)
			}
		}

		dump = await[string](t)(tx.Dump(DumpStoreHeaders))
		deepEqual(t, dump, dumpSep1+"\nusers (1 records)\n")

		stats := await[StoreStats](t)(tx.StoreStats("users"))
		deepEqual(t, stats.Records, 1)
		deepEqual(t, stats.IndexRows, 1)
		if stats.DataSize <= 0 || stats.IndexSize <= 0 || stats.TotalSize() != stats.DataSize+stats.IndexSize {
			t.Errorf("** unexpected sizes: %+v", stats)
		}

		_, err := tx.StoreStats("missing")
		isKind(t, err, ErrNotFound)
	})
}

func TestDumpFlags(t *testing.T) {
	deepEqual(t, DumpAll.Contains(DumpIndexRows), true)
	deepEqual(t, (DumpRecords | DumpStats).Contains(DumpRecords), true)
	deepEqual(t, DumpRecords.Contains(DumpRecords|DumpStats), false)
	deepEqual(t, loggableValue(nil), "<none>")
	deepEqual(t, loggableValue(map[string]any{"b": 1, "a": "x"}), `{"a":"x","b":1}`)
}
