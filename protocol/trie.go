package protocol

import (
	"errors"
	"fmt"
	"sort"
)

// ErrAmbiguousCode is returned by BuildTrie when one command code is a prefix
// of another, or a code is empty.
var ErrAmbiguousCode = errors.New("ambiguous command code")

// Node is a trie node. A node is either inner (it has children) or a leaf
// (it holds an entry), never both.
type Node struct {
	children map[byte]*Node
	entry    *CommandEntry
	code     []byte
}

// Step returns the child for b, or nil when b does not continue any code.
func (n *Node) Step(b byte) *Node {
	if n == nil || n.children == nil {
		return nil
	}
	return n.children[b]
}

// IsLeaf reports whether n terminates a command code.
func (n *Node) IsLeaf() bool { return n != nil && n.entry != nil }

// Entry returns the command stored at a leaf, or nil for inner nodes.
func (n *Node) Entry() *CommandEntry { return n.entry }

// Code returns the full command code leading to n.
func (n *Node) Code() []byte { return n.code }

// BuildTrie builds the command trie for table. Codes are inserted in sorted
// order so the result and any error are deterministic.
func BuildTrie(table Table) (*Node, error) {
	codes := make([]string, 0, len(table))
	for code := range table {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	root := &Node{children: map[byte]*Node{}}
	for _, code := range codes {
		if code == "" {
			return nil, fmt.Errorf("%w: empty code for %q", ErrAmbiguousCode, table[code].Name)
		}
		node := root
		for i := 0; i < len(code)-1; i++ {
			child, ok := node.children[code[i]]
			switch {
			case !ok:
				child = &Node{children: map[byte]*Node{}, code: []byte(code[:i+1])}
				node.children[code[i]] = child
			case child.IsLeaf():
				return nil, fmt.Errorf("%w: %x is a prefix of %x", ErrAmbiguousCode, child.code, code)
			}
			node = child
		}

		last := code[len(code)-1]
		if existing, ok := node.children[last]; ok {
			return nil, fmt.Errorf("%w: %x is a prefix of %x", ErrAmbiguousCode, code, firstLeaf(existing).code)
		}
		entry := table[code]
		node.children[last] = &Node{entry: &entry, code: []byte(code)}
	}
	return root, nil
}

// MustBuildTrie is BuildTrie for static tables; it panics on error.
func MustBuildTrie(table Table) *Node {
	root, err := BuildTrie(table)
	if err != nil {
		panic(err)
	}
	return root
}

func firstLeaf(n *Node) *Node {
	for !n.IsLeaf() {
		keys := make([]int, 0, len(n.children))
		for b := range n.children {
			keys = append(keys, int(b))
		}
		sort.Ints(keys)
		n = n.children[byte(keys[0])]
	}
	return n
}
