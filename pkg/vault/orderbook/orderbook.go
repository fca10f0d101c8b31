// Package orderbook implements the price-sorted order index backing a
// Dutch auction epoch.
//
// Orders live in an arena of per-id records linked into a doubly-linked
// list. Traversal from the head yields non-increasing price, and orders
// at the same price keep insertion order, so a single head-to-tail walk
// settles the auction deterministically. Ids are issued once and never
// reused; id 0 is the null sentinel.
package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
)

// Order is the public view of a resting order.
type Order struct {
	ID    uint64
	Price fixed.Q
	Size  *uint256.Int
	Buyer common.Address
}

type node struct {
	order      Order
	prev, next uint64
}

// Book is one epoch's order index.
type Book struct {
	head, tail uint64
	nextID     uint64
	length     int
	nodes      map[uint64]*node
}

func New() *Book {
	return &Book{nextID: 1, nodes: make(map[uint64]*node)}
}

// Head returns the id of the highest-price live order, 0 if empty.
func (b *Book) Head() uint64 { return b.head }

// Tail returns the id of the lowest-price live order, 0 if empty.
func (b *Book) Tail() uint64 { return b.tail }

// Length returns the number of live orders.
func (b *Book) Length() int { return b.length }

// Insert issues a fresh id for (price, size, buyer) and splices the
// order after the last node whose price is >= price, keeping the list
// sorted and FIFO among equal prices. Returns the new id.
func (b *Book) Insert(price fixed.Q, size *uint256.Int, buyer common.Address) uint64 {
	id := b.nextID
	b.nextID++
	n := &node{order: Order{ID: id, Price: price, Size: new(uint256.Int).Set(size), Buyer: buyer}}
	b.nodes[id] = n
	b.length++

	// find the last node with price >= new price
	var after uint64
	for cur := b.head; cur != 0; cur = b.nodes[cur].next {
		if b.nodes[cur].order.Price.Cmp(price) < 0 {
			break
		}
		after = cur
	}

	if after == 0 { // new head
		n.next = b.head
		if b.head != 0 {
			b.nodes[b.head].prev = id
		}
		b.head = id
		if b.tail == 0 {
			b.tail = id
		}
		return id
	}

	p := b.nodes[after]
	n.prev = after
	n.next = p.next
	if p.next != 0 {
		b.nodes[p.next].prev = id
	} else {
		b.tail = id
	}
	p.next = id
	return id
}

// Remove unlinks id from the list. Returns false if id is not live.
func (b *Book) Remove(id uint64) bool {
	n, ok := b.nodes[id]
	if !ok {
		return false
	}
	if n.prev != 0 {
		b.nodes[n.prev].next = n.next
	} else {
		b.head = n.next
	}
	if n.next != 0 {
		b.nodes[n.next].prev = n.prev
	} else {
		b.tail = n.prev
	}
	delete(b.nodes, id)
	b.length--
	return true
}

// GetOrderByID returns the order for id, or the zero Order if absent.
func (b *Book) GetOrderByID(id uint64) Order {
	if n, ok := b.nodes[id]; ok {
		o := n.order
		o.Size = new(uint256.Int).Set(n.order.Size)
		return o
	}
	return Order{Size: new(uint256.Int)}
}

// GetPreviousOrder returns the id of the next-higher-priority order,
// 0 at the head or for an absent id.
func (b *Book) GetPreviousOrder(id uint64) uint64 {
	if n, ok := b.nodes[id]; ok {
		return n.prev
	}
	return 0
}

// GetNextOrder returns the id of the next-lower-priority order,
// 0 at the tail or for an absent id.
func (b *Book) GetNextOrder(id uint64) uint64 {
	if n, ok := b.nodes[id]; ok {
		return n.next
	}
	return 0
}

// Ascend walks head to tail, calling fn for each live order until fn
// returns false. The callback must not mutate the book.
func (b *Book) Ascend(fn func(Order) bool) {
	for cur := b.head; cur != 0; {
		n := b.nodes[cur]
		next := n.next
		if !fn(b.GetOrderByID(cur)) {
			return
		}
		cur = next
	}
}

// IDs returns the live ids in traversal order. Used by snapshots.
func (b *Book) IDs() []uint64 {
	out := make([]uint64, 0, b.length)
	for cur := b.head; cur != 0; cur = b.nodes[cur].next {
		out = append(out, cur)
	}
	return out
}
