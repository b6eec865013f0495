package runtime

import (
	"math"

	"github.com/tanema/luavm/src/lerrors"
)

type (
	// Table is a container object in lua that acts both as an array and a map
	// It is used during runtime but can also be changed in go code.
	Table struct {
		val       []any
		hashtable map[any]any
		keyCache  []any
		keyIndex  map[any]int
	}
)

// NewTable will create a new table with default values contained in it. Since
// lua tables act as both array and map, both can be passed in to set the values.
func NewTable(arr []any, hash map[any]any) *Table {
	tbl := newSizedTable(len(arr), len(hash))
	for i, val := range arr {
		_ = tbl.Set(int64(i+1), val)
	}
	for key, val := range hash {
		_ = tbl.Set(key, val)
	}
	return tbl
}

func newSizedTable(arraySize, tableSize int) *Table {
	return &Table{
		val:       make([]any, 0, arraySize),
		hashtable: make(map[any]any, tableSize),
		keyIndex:  make(map[any]int, tableSize),
	}
}

// normalizeKey converts float keys with an integral value to integers so that
// t[1] and t[1.0] are the same slot. Nil and NaN keys are rejected.
func normalizeKey(key any) (any, error) {
	switch tkey := key.(type) {
	case nil:
		return nil, errorf(lerrors.ErrIndex, "table index is nil")
	case float64:
		if math.IsNaN(tkey) {
			return nil, errorf(lerrors.ErrIndex, "table index is NaN")
		} else if ival, ok := floatToInteger(tkey); ok {
			return ival, nil
		}
	}
	return key, nil
}

// Get will return the value for the key. If it is an int it will get it from the
// array store, otherwise the map. Keys that cannot exist read as nil.
func (t *Table) Get(key any) any {
	key, err := normalizeKey(key)
	if err != nil {
		return nil
	}
	if i, isInt := key.(int64); isInt && i > 0 && i <= int64(len(t.val)) {
		return t.val[i-1]
	}
	return t.hashtable[key]
}

// Set will set a value at a given key. Integer keys inside of or directly after
// the array part go to the array part, everything else goes to the map. Nil and
// NaN keys are not allowed.
func (t *Table) Set(key, val any) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if i, isInt := key.(int64); isInt && i > 0 {
		if i <= int64(len(t.val)) {
			t.val[i-1] = val
			return nil
		} else if i == int64(len(t.val))+1 && val != nil {
			t.val = append(t.val, val)
			t.delete(key)
			t.migrate()
			return nil
		}
	}
	if _, exists := t.hashtable[key]; exists {
		// a nil value is kept as a tombstone so next can continue past it.
		t.hashtable[key] = val
	} else if val != nil {
		t.hashtable[key] = val
		t.keyIndex[key] = len(t.keyCache)
		t.keyCache = append(t.keyCache, key)
	}
	return nil
}

// migrate moves the integer keys that directly follow the array part out of
// the map.
func (t *Table) migrate() {
	for {
		next := int64(len(t.val)) + 1
		val, ok := t.hashtable[next]
		if !ok || val == nil {
			return
		}
		t.val = append(t.val, val)
		t.delete(next)
	}
}

func (t *Table) delete(key any) {
	idx, ok := t.keyIndex[key]
	if !ok {
		return
	}
	delete(t.hashtable, key)
	delete(t.keyIndex, key)
	t.keyCache[idx] = nil
}

// Len returns a border of the table: an index n where t[n] is not nil and
// t[n+1] is nil, or 0 when t[1] is nil.
func (t *Table) Len() int64 {
	size := int64(len(t.val))
	if size > 0 && t.val[size-1] == nil {
		lo, hi := int64(0), size
		for hi-lo > 1 {
			mid := (lo + hi) / 2
			if t.val[mid-1] == nil {
				hi = mid
			} else {
				lo = mid
			}
		}
		return lo
	}
	if t.Get(size+1) == nil {
		return size
	}
	lo, hi := size+1, size+2
	for t.Get(hi) != nil {
		lo = hi
		if hi > math.MaxInt64/2 {
			for t.Get(lo+1) != nil {
				lo++
			}
			return lo
		}
		hi *= 2
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if t.Get(mid) == nil {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo
}

// Next returns the key and value that follow key in traversal order. A nil key
// starts the traversal and a nil returned key ends it. The array part is
// traversed first, then the map in insertion order.
func (t *Table) Next(key any) (any, any, error) {
	start := 0
	if key != nil {
		key, err := normalizeKey(key)
		if err != nil {
			return nil, nil, err
		}
		if i, isInt := key.(int64); isInt && i > 0 && i <= int64(len(t.val)) {
			start = int(i)
		} else if idx, found := t.keyIndex[key]; found {
			start = len(t.val) + idx + 1
		} else {
			return nil, nil, errorf(lerrors.ErrIndex, "invalid key to 'next'")
		}
	}
	for i := start; i < len(t.val); i++ {
		if t.val[i] != nil {
			return int64(i + 1), t.val[i], nil
		}
	}
	for i := max(start-len(t.val), 0); i < len(t.keyCache); i++ {
		k := t.keyCache[i]
		if k == nil {
			continue
		}
		if val := t.hashtable[k]; val != nil {
			return k, val, nil
		}
	}
	return nil, nil, nil
}
