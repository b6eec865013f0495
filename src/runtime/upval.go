package runtime

import (
	"fmt"
)

// upvalueBroker is a captured variable. While open it points at a stack slot
// of a live frame, once closed it owns the value. Open brokers are kept in a
// list sorted by stack index, highest first.
type upvalueBroker struct {
	val   any
	stack *[]any
	name  string
	index int
	open  bool
	next  *upvalueBroker
}

func (vm *VM) newUpValueBroker(name string, index int) *upvalueBroker {
	return &upvalueBroker{
		stack: &vm.Stack,
		name:  name,
		index: index,
		open:  true,
	}
}

func closedUpvalue(name string, val any) *upvalueBroker {
	return &upvalueBroker{name: name, val: val}
}

func (b *upvalueBroker) String() string {
	return fmt.Sprintf("<-id: %v name: %v open: %v->", b.index, b.name, b.open)
}

func (b *upvalueBroker) Get() any {
	if b.open {
		return (*b.stack)[b.index]
	}
	return b.val
}

func (b *upvalueBroker) Set(val any) {
	if b.open {
		(*b.stack)[b.index] = val
		return
	}
	b.val = val
}

func (b *upvalueBroker) Close() {
	if !b.open {
		return
	}
	b.val = (*b.stack)[b.index]
	b.open = false
	b.stack = nil
	b.next = nil
}

// findUpvalue returns the open broker for the stack index, creating it if the
// slot has not been captured yet. Closures capturing the same slot share the
// broker.
func (vm *VM) findUpvalue(name string, index int) *upvalueBroker {
	var prev *upvalueBroker
	cur := vm.openUpvals
	for cur != nil && cur.index > index {
		prev, cur = cur, cur.next
	}
	if cur != nil && cur.index == index {
		return cur
	}
	broker := vm.newUpValueBroker(name, index)
	broker.next = cur
	if prev == nil {
		vm.openUpvals = broker
	} else {
		prev.next = broker
	}
	return broker
}

// closeUpvalues closes every open broker at or above level.
func (vm *VM) closeUpvalues(level int) {
	for vm.openUpvals != nil && vm.openUpvals.index >= level {
		broker := vm.openUpvals
		vm.openUpvals = broker.next
		broker.Close()
	}
}
