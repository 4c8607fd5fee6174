package domain

import (
	"fmt"
	"sort"
)

// Node is one item plus its ordered children in an assembled board tree.
type Node struct {
	Item
	ChildCount int     `json:"childCount"`
	Children   []*Node `json:"children"`
}

// BuildTree assembles the ordered board for one lab from its item rows. The
// root is the lab's own row. Children sort by position ascending with id as
// tie break, so legacy rows with position gaps or duplicates still read
// deterministically. Child counts are computed from the rows handed in,
// never carried over from a cache.
func BuildTree(labID string, items []Item) (*Node, error) {
	byContainer := make(map[string][]Item)
	var root *Node
	for _, it := range items {
		if it.ID == labID && it.Kind == KindLab {
			r := Node{Item: it, Children: []*Node{}}
			root = &r
			continue
		}
		byContainer[it.ContainerID] = append(byContainer[it.ContainerID], it)
	}
	if root == nil {
		return nil, fmt.Errorf("lab %s: %w", labID, ErrContainerNotFound)
	}
	attachChildren(root, byContainer, map[string]struct{}{labID: {}})
	return root, nil
}

func attachChildren(n *Node, byContainer map[string][]Item, onPath map[string]struct{}) {
	children := byContainer[n.ID]
	sort.Slice(children, func(i, j int) bool {
		if children[i].Position != children[j].Position {
			return children[i].Position < children[j].Position
		}
		return children[i].ID < children[j].ID
	})
	n.ChildCount = len(children)
	n.Children = make([]*Node, 0, len(children))
	for _, c := range children {
		if _, seen := onPath[c.ID]; seen {
			continue
		}
		child := Node{Item: c, Children: []*Node{}}
		onPath[c.ID] = struct{}{}
		attachChildren(&child, byContainer, onPath)
		delete(onPath, c.ID)
		n.Children = append(n.Children, &child)
	}
}
