package objstore

import (
	"bytes"
	"context"
	"log/slog"
)

const (
	debugLogRawScans = false

	// scans check for cancellation every this many rows
	scanCancelCheckInterval = 256
)

// RawRange defines a range of byte strings. The constructors use mnemonics:
// O means open, I means inclusive, E means exclusive; the first letter is for
// the lower bound, the second for the upper bound.
//
// Prefix restricts the range to keys starting with it; bounds, when set,
// must also start with it.
type RawRange struct {
	Prefix   []byte
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func RawOO() RawRange            { return RawRange{} }
func RawIO(l []byte) RawRange    { return RawRange{Lower: l, LowerInc: true} }
func RawEO(l []byte) RawRange    { return RawRange{Lower: l, LowerInc: false} }
func RawOI(u []byte) RawRange    { return RawRange{Upper: u, UpperInc: true} }
func RawOE(u []byte) RawRange    { return RawRange{Upper: u, UpperInc: false} }
func RawII(l, u []byte) RawRange { return RawRange{Lower: l, Upper: u, LowerInc: true, UpperInc: true} }
func RawIE(l, u []byte) RawRange {
	return RawRange{Lower: l, Upper: u, LowerInc: true, UpperInc: false}
}
func RawPrefix(p []byte) RawRange                { return RawRange{Prefix: p} }
func (rang RawRange) Prefixed(p []byte) RawRange { rang.Prefix = p; return rang }
func (rang RawRange) Reversed() RawRange         { rang.Reverse = true; return rang }

// WithLower narrows the lower bound, keeping whichever bound is tighter.
func (rang RawRange) WithLower(l []byte, inc bool) RawRange {
	if rang.Lower == nil {
		rang.Lower, rang.LowerInc = l, inc
		return rang
	}
	switch c := bytes.Compare(l, rang.Lower); {
	case c > 0:
		rang.Lower, rang.LowerInc = l, inc
	case c == 0:
		rang.LowerInc = rang.LowerInc && inc
	}
	return rang
}

// WithUpper narrows the upper bound, keeping whichever bound is tighter.
func (rang RawRange) WithUpper(u []byte, inc bool) RawRange {
	if rang.Upper == nil {
		rang.Upper, rang.UpperInc = u, inc
		return rang
	}
	switch c := bytes.Compare(u, rang.Upper); {
	case c < 0:
		rang.Upper, rang.UpperInc = u, inc
	case c == 0:
		rang.UpperInc = rang.UpperInc && inc
	}
	return rang
}

// IsEmpty reports whether the bounds exclude every key.
func (rang RawRange) IsEmpty() bool {
	if rang.Lower == nil || rang.Upper == nil {
		return false
	}
	c := bytes.Compare(rang.Lower, rang.Upper)
	return c > 0 || (c == 0 && !(rang.LowerInc && rang.UpperInc))
}

func (r *RawRange) start(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	if r.IsEmpty() {
		return nil, nil
	}
	var k, v []byte
	if r.Reverse {
		if upper := r.Upper; upper != nil {
			if r.Prefix != nil && !bytes.HasPrefix(upper, r.Prefix) {
				panic("upper bound does not match prefix")
			}
			k, v = bcur.Seek(upper)
			if k == nil {
				k, v = bcur.Last()
			} else if c := bytes.Compare(k, upper); c > 0 || (c == 0 && !r.UpperInc) {
				k, v = bcur.Prev()
			}
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK to upper", hexAttr("upper", upper), hexAttr("key", k), hexAttr("val", v))
			}
		} else if r.Prefix != nil {
			k, v = bcur.SeekLast(r.Prefix)
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK to last prefixed", hexAttr("prefix", r.Prefix), hexAttr("key", k), hexAttr("val", v))
			}
		} else {
			k, v = bcur.Last()
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "LAST", hexAttr("key", k), hexAttr("val", v))
			}
		}
	} else {
		if lower := r.Lower; lower != nil {
			if r.Prefix != nil && !bytes.HasPrefix(lower, r.Prefix) {
				panic("lower bound does not match prefix")
			}
			k, v = bcur.Seek(lower)
			if k != nil && !r.LowerInc && bytes.Equal(k, lower) {
				k, v = bcur.Next()
			}
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK to lower", hexAttr("lower", lower), hexAttr("key", k), hexAttr("val", v))
			}
		} else if r.Prefix != nil {
			k, v = bcur.Seek(r.Prefix)
		} else {
			k, v = bcur.First()
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "FIRST", hexAttr("key", k), hexAttr("val", v))
			}
		}
	}
	if k != nil && r.match(k, v, logger) {
		return k, v
	} else {
		return nil, nil
	}
}

func (r *RawRange) next(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = bcur.Prev()
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "PREV", hexAttr("key", k), hexAttr("val", v))
		}
	} else {
		k, v = bcur.Next()
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "NEXT", hexAttr("key", k), hexAttr("val", v))
		}
	}
	if k != nil && r.match(k, v, logger) {
		return k, v
	} else {
		return nil, nil
	}
}

func (r *RawRange) match(k, v []byte, logger *slog.Logger) bool {
	if r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix) {
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "BAIL on prefix", hexAttr("prefix", r.Prefix), hexAttr("key", k), hexAttr("val", v))
		}
		return false
	}
	if r.Reverse {
		if lower := r.Lower; lower != nil {
			cmp := bytes.Compare(k, lower)
			if cmp == -1 || (cmp == 0 && !r.LowerInc) {
				if debugLogRawScans {
					logger.LogAttrs(context.Background(), slog.LevelDebug, "BAIL on lower", hexAttr("lower", lower), hexAttr("key", k), hexAttr("val", v))
				}
				return false
			}
		}
	} else {
		if upper := r.Upper; upper != nil {
			cmp := bytes.Compare(k, upper)
			if cmp == 1 || (cmp == 0 && !r.UpperInc) {
				if debugLogRawScans {
					logger.LogAttrs(context.Background(), slog.LevelDebug, "BAIL on upper", hexAttr("upper", upper), hexAttr("key", k), hexAttr("val", v))
				}
				return false
			}
		}
	}
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "MATCH", hexAttr("key", k), hexAttr("val", v))
	}
	return true
}

func (rang RawRange) newCursor(ctx context.Context, buck storageBucket, logger *slog.Logger) *RawRangeCursor {
	return &RawRangeCursor{rang: rang, bcur: buck.Cursor(), ctx: ctx, logger: logger}
}

// RawRangeCursor walks the keys of a bucket that fall into a RawRange.
type RawRangeCursor struct {
	rang   RawRange
	bcur   storageCursor
	ctx    context.Context
	logger *slog.Logger
	k, v   []byte
	init   bool
	steps  int
	err    error
}

func (c *RawRangeCursor) Next() bool {
	if c.err != nil {
		return false
	}
	c.steps++
	if c.ctx != nil && c.steps%scanCancelCheckInterval == 0 {
		if err := c.ctx.Err(); err != nil {
			c.err = err
			c.k, c.v = nil, nil
			return false
		}
	}
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	if c.k == nil {
		c.err = c.bcur.Err()
	}
	return c.k != nil
}

func (c *RawRangeCursor) Key() []byte   { return c.k }
func (c *RawRangeCursor) Value() []byte { return c.v }

// Err returns a backend error or the context's error that stopped the scan.
func (c *RawRangeCursor) Err() error { return c.err }

func (c *RawRangeCursor) Close() { c.bcur.Close() }
