package objstore

import (
	"testing"

	"github.com/andreyvit/objstore/keycodec"
)

func setupNumbers(t testing.TB, n int) *DB {
	t.Helper()
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		must(tx.CreateObjectStore("nums", StoreOptions{}))
	})
	update(t, db, "nums", func(tx *Tx, st *ObjectStore) {
		for i := 1; i <= n; i++ {
			await[Key](t)(st.Put(i*10, i))
		}
	})
	return db
}

// walk collects the key values a cursor visits until it runs out.
func walk(t testing.TB) func(r *Request, err error) []any {
	return func(r *Request, err error) []any {
		t.Helper()
		var out []any
		c := await[*Cursor](t)(r, err)
		for c != nil {
			out = append(out, c.Key().Value())
			c = await[*Cursor](t)(c.Continue())
		}
		return out
	}
}

func TestCursorRange(t *testing.T) {
	db := setupNumbers(t, 12)
	view(t, db, "nums", func(tx *Tx, st *ObjectStore) {
		rang := MustBound(5, 10, false, true)
		deepEqual(t, walk(t)(st.OpenCursor(rang, Next)), []any{5.0, 6.0, 7.0, 8.0, 9.0})
		deepEqual(t, walk(t)(st.OpenCursor(rang, Prev)), []any{9.0, 8.0, 7.0, 6.0, 5.0})
		deepEqual(t, walk(t)(st.OpenKeyCursor(rang, NextUnique)), []any{5.0, 6.0, 7.0, 8.0, 9.0})
		deepEqual(t, walk(t)(st.OpenCursor(MustBound(5, 10, true, false), PrevUnique)), []any{10.0, 9.0, 8.0, 7.0, 6.0})
		deepEqual(t, walk(t)(st.OpenCursor(11, Next)), []any{11.0})
		deepEqual(t, walk(t)(st.OpenCursor(must(LowerBound(11, false)), Next)), []any{11.0, 12.0})
		deepEqual(t, walk(t)(st.OpenCursor(100, Next)), []any(nil))
	})
}

func TestCursorValues(t *testing.T) {
	db := setupNumbers(t, 3)
	view(t, db, "nums", func(tx *Tx, st *ObjectStore) {
		c := await[*Cursor](t)(st.OpenCursor(nil, Next))
		deepEqual(t, c.Key().Value(), any(1.0))
		deepEqual(t, c.PrimaryKey().Value(), any(1.0))
		deepEqual(t, decodeAs[int](t, db, c.Value()), 10)
		deepEqual(t, c.Direction(), Next)
		deepEqual(t, c.Transaction(), tx)

		c = await[*Cursor](t)(st.OpenKeyCursor(nil, Prev))
		deepEqual(t, c.Key().Value(), any(3.0))
		deepEqual(t, c.Value(), nil)
	})
}

func TestCursorContinueTarget(t *testing.T) {
	db := setupNumbers(t, 12)
	view(t, db, "nums", func(tx *Tx, st *ObjectStore) {
		c := await[*Cursor](t)(st.OpenCursor(MustBound(5, 10, false, true), Next))
		deepEqual(t, c.Key().Value(), any(5.0))

		c = await[*Cursor](t)(c.Continue(8))
		deepEqual(t, c.Key().Value(), any(8.0))

		// a target that does not advance is rejected without moving the cursor
		_, err := c.Continue(6)
		isKind(t, err, ErrData)
		_, err = c.Continue(8)
		isKind(t, err, ErrData)
		deepEqual(t, c.Key().Value(), any(8.0))
		deepEqual(t, tx.IsActive(), true)

		c = await[*Cursor](t)(c.Continue())
		deepEqual(t, c.Key().Value(), any(9.0))

		// a target past the range exhausts the cursor
		deepEqual(t, await[*Cursor](t)(c.Continue(50)), (*Cursor)(nil))
	})

	view(t, db, "nums", func(tx *Tx, st *ObjectStore) {
		c := await[*Cursor](t)(st.OpenCursor(nil, Prev))
		deepEqual(t, c.Key().Value(), any(12.0))
		_, err := c.Continue(13)
		isKind(t, err, ErrData)
		c = await[*Cursor](t)(c.Continue(7.5))
		deepEqual(t, c.Key().Value(), any(7.0))
	})
}

func TestCursorAdvance(t *testing.T) {
	db := setupNumbers(t, 10)
	view(t, db, "nums", func(tx *Tx, st *ObjectStore) {
		c := await[*Cursor](t)(st.OpenCursor(nil, Next))
		_, err := c.Advance(0)
		isKind(t, err, ErrData)

		c = await[*Cursor](t)(c.Advance(3))
		deepEqual(t, c.Key().Value(), any(4.0))
		c = await[*Cursor](t)(c.Advance(6))
		deepEqual(t, c.Key().Value(), any(10.0))

		deepEqual(t, await[*Cursor](t)(c.Advance(1)), (*Cursor)(nil))
		deepEqual(t, c.IsExhausted(), true)
		deepEqual(t, c.Key().IsUnset(), true)

		_, err = c.Continue()
		isKind(t, err, ErrNotAllowed)
		_, err = c.Advance(1)
		isKind(t, err, ErrNotAllowed)
	})
}

func TestCursorUpdateDelete(t *testing.T) {
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		st := must(tx.CreateObjectStore("users", StoreOptions{KeyPath: MustKeyPath("id")}))
		must(st.CreateIndex("by_email", MustKeyPath("email"), IndexOptions{Unique: true}))
	})
	update(t, db, "users", func(tx *Tx, st *ObjectStore) {
		for i := int64(1); i <= 3; i++ {
			await[Key](t)(st.Put(&User{ID: i, Email: string(rune('a'+i-1)) + "@example.com"}))
		}

		c := await[*Cursor](t)(st.OpenCursor(nil, Next))
		deepEqual(t, await[Key](t)(c.Update(&User{ID: 1, Email: "z@example.com"})).Value(), any(1.0))

		_, err := c.Update(&User{ID: 2, Email: "q@example.com"})
		isKind(t, err, ErrData)

		// a value without the key gets the cursor's key
		deepEqual(t, await[Key](t)(c.Update(map[string]any{"email": "y@example.com"})).Value(), any(1.0))

		c = await[*Cursor](t)(c.Continue())
		deepEqual(t, await[int](t)(c.Delete()), 1)
		deepEqual(t, c.Key().Value(), any(2.0))
		c = await[*Cursor](t)(c.Continue())
		deepEqual(t, c.Key().Value(), any(3.0))

		kc := await[*Cursor](t)(st.OpenKeyCursor(nil, Next))
		_, err = kc.Update(&User{ID: 1})
		isKind(t, err, ErrNotAllowed)
	})
	view(t, db, "users", func(tx *Tx, st *ObjectStore) {
		deepEqual(t, await[int](t)(st.Count(nil)), 2)
		u := decodeAs[User](t, db, await[any](t)(st.Get(1)))
		deepEqual(t, u, User{ID: 1, Email: "y@example.com"})

		idx := must(st.Index("by_email"))
		deepEqual(t, walk(t)(idx.OpenKeyCursor(nil, Next)), []any{"c@example.com", "y@example.com"})

		c := await[*Cursor](t)(st.OpenCursor(nil, Next))
		_, err := c.Update(&User{ID: 1})
		isKind(t, err, ErrReadOnly)
		_, err = c.Delete()
		isKind(t, err, ErrReadOnly)
	})
}

func TestCursorAfterCommit(t *testing.T) {
	db := setupNumbers(t, 3)
	tx := must(db.Transaction([]string{"nums"}, ReadOnly))
	st := must(tx.ObjectStore("nums"))
	c := await[*Cursor](t)(st.OpenCursor(nil, Next))
	must(0, tx.Commit())
	_, err := c.Continue()
	isKind(t, err, ErrTransactionInactive)
	deepEqual(t, c.Key().Value(), any(1.0))
	_, err = st.OpenCursor(nil, Direction(42))
	isKind(t, err, ErrTransactionInactive)
}

func setupTags(t testing.TB) *DB {
	t.Helper()
	db := setup(t)
	upgrade(t, db, func(tx *Tx) {
		st := must(tx.CreateObjectStore("items", StoreOptions{}))
		must(st.CreateIndex("tag", MustKeyPath("tag"), IndexOptions{}))
	})
	update(t, db, "items", func(tx *Tx, st *ObjectStore) {
		for i, tag := range []string{"a", "b", "b", "c", "c", "c"} {
			await[Key](t)(st.Put(map[string]any{"tag": tag, "n": i + 1}, i+1))
		}
	})
	return db
}

// walkIndex collects "indexkey:primarykey" pairs visited by an index cursor.
func walkIndex(t testing.TB) func(r *Request, err error) []string {
	return func(r *Request, err error) []string {
		t.Helper()
		var out []string
		c := await[*Cursor](t)(r, err)
		for c != nil {
			out = append(out, c.Key().String()+":"+c.PrimaryKey().String())
			c = await[*Cursor](t)(c.Continue())
		}
		return out
	}
}

func TestCursorIndexDirections(t *testing.T) {
	db := setupTags(t)
	view(t, db, "items", func(tx *Tx, st *ObjectStore) {
		idx := must(st.Index("tag"))
		k := func(tag string, pk int) string {
			return keycodec.MustEncode(tag).String() + ":" + keycodec.MustEncode(pk).String()
		}

		deepEqual(t, walkIndex(t)(idx.OpenCursor(nil, Next)), []string{
			k("a", 1), k("b", 2), k("b", 3), k("c", 4), k("c", 5), k("c", 6),
		})
		deepEqual(t, walkIndex(t)(idx.OpenCursor(nil, NextUnique)), []string{
			k("a", 1), k("b", 2), k("c", 4),
		})
		deepEqual(t, walkIndex(t)(idx.OpenCursor(nil, Prev)), []string{
			k("c", 6), k("c", 5), k("c", 4), k("b", 3), k("b", 2), k("a", 1),
		})
		deepEqual(t, walkIndex(t)(idx.OpenCursor(nil, PrevUnique)), []string{
			k("c", 4), k("b", 2), k("a", 1),
		})
		deepEqual(t, walkIndex(t)(idx.OpenKeyCursor("b", Next)), []string{
			k("b", 2), k("b", 3),
		})
		deepEqual(t, walkIndex(t)(idx.OpenKeyCursor(MustBound("a", "c", true, true), Prev)), []string{
			k("b", 3), k("b", 2),
		})
	})
}

func TestCursorIndexTargets(t *testing.T) {
	db := setupTags(t)
	view(t, db, "items", func(tx *Tx, st *ObjectStore) {
		idx := must(st.Index("tag"))

		c := await[*Cursor](t)(idx.OpenCursor(nil, Next))
		c = await[*Cursor](t)(c.Continue("c"))
		deepEqual(t, c.Key().Value(), any("c"))
		deepEqual(t, c.PrimaryKey().Value(), any(4.0))
		deepEqual(t, decodeAs[map[string]any](t, db, c.Value())["tag"], any("c"))

		_, err := c.Continue("b")
		isKind(t, err, ErrData)

		c = await[*Cursor](t)(c.Advance(2))
		deepEqual(t, c.PrimaryKey().Value(), any(6.0))

		c = await[*Cursor](t)(idx.OpenCursor(nil, Prev))
		c = await[*Cursor](t)(c.Continue("b"))
		deepEqual(t, c.Key().Value(), any("b"))
		deepEqual(t, c.PrimaryKey().Value(), any(3.0))

		c = await[*Cursor](t)(idx.OpenCursor(nil, NextUnique))
		c = await[*Cursor](t)(c.Advance(2))
		deepEqual(t, c.Key().Value(), any("c"))
		deepEqual(t, c.PrimaryKey().Value(), any(4.0))
	})
}
