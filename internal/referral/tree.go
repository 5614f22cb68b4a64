package referral

import (
	"context"
	"fmt"
	"strings"
)

type Node struct {
	ID       string
	Level    int
	Children []*Node
}

// Tree returns the referral subtree rooted at rootID, which may be a
// participant id or a developer code. Each id is visited once; maxDepth <= 0
// means unbounded.
func (d *Directory) Tree(ctx context.Context, requesterID, rootID string, maxDepth int) (*Node, error) {
	if !d.IsOperator(requesterID) {
		return nil, ErrNotOperator
	}
	rootID = strings.TrimSpace(rootID)
	root := &Node{ID: rootID}
	if p, err := d.st.GetParticipant(ctx, rootID); err != nil {
		return nil, err
	} else if p != nil {
		root.Level = p.ReferralLevel
	}

	visited := map[string]bool{rootID: true}
	if err := d.grow(ctx, root, 0, maxDepth, visited); err != nil {
		return nil, err
	}
	return root, nil
}

func (d *Directory) grow(ctx context.Context, n *Node, depth, maxDepth int, visited map[string]bool) error {
	if maxDepth > 0 && depth >= maxDepth {
		return nil
	}
	refs, err := d.st.ListReferrals(ctx, n.ID)
	if err != nil {
		return err
	}
	for _, r := range refs {
		if visited[r.ID] {
			continue
		}
		visited[r.ID] = true
		child := &Node{ID: r.ID, Level: r.ReferralLevel}
		n.Children = append(n.Children, child)
		if err := d.grow(ctx, child, depth+1, maxDepth, visited); err != nil {
			return err
		}
	}
	return nil
}

// Size counts the nodes below n.
func (n *Node) Size() int {
	total := 0
	for _, c := range n.Children {
		total += 1 + c.Size()
	}
	return total
}

// Render draws the tree as indented text for chat replies.
func (n *Node) Render() string {
	var b strings.Builder
	n.render(&b, 0)
	return strings.TrimRight(b.String(), "\n")
}

func (n *Node) render(b *strings.Builder, indent int) {
	fmt.Fprintf(b, "%s%s (level %d)\n", strings.Repeat("  ", indent), n.ID, n.Level)
	for _, c := range n.Children {
		c.render(b, indent+1)
	}
}
