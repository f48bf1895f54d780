package hal

import rb "github.com/glycerine/rbtree"

type handle[T any] struct {
	fd FD
	v  T
}

// handleTable maps FDs to transport state. FDs are handed out in increasing
// order starting at 1 and are never reused, so a stale FD never aliases a
// newer endpoint.
type handleTable[T any] struct {
	tree *rb.Tree
	next FD
}

func newHandleTable[T any]() *handleTable[T] {
	return &handleTable[T]{
		tree: rb.NewTree(func(a, b rb.Item) int {
			x := a.(*handle[T]).fd
			y := b.(*handle[T]).fd
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}),
		next: 1,
	}
}

func (t *handleTable[T]) add(v T) FD {
	fd := t.next
	t.next++
	t.tree.Insert(&handle[T]{fd: fd, v: v})
	return fd
}

func (t *handleTable[T]) get(fd FD) (T, bool) {
	item := t.tree.Get(&handle[T]{fd: fd})
	if item == nil {
		var zero T
		return zero, false
	}
	return item.(*handle[T]).v, true
}

func (t *handleTable[T]) remove(fd FD) (T, bool) {
	v, ok := t.get(fd)
	if ok {
		t.tree.DeleteWithKey(&handle[T]{fd: fd})
	}
	return v, ok
}

func (t *handleTable[T]) len() int { return t.tree.Len() }

// fds returns the open FDs in ascending order.
func (t *handleTable[T]) fds() []FD {
	out := make([]FD, 0, t.tree.Len())
	for it := t.tree.Min(); !it.Limit(); it = it.Next() {
		out = append(out, it.Item().(*handle[T]).fd)
	}
	return out
}
