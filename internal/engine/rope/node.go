package rope

import "strings"

// Tree shape bounds.
const (
	MaxChildren      = 8
	MaxChunksPerLeaf = 4
)

// node is a B+ tree node. Leaves (height 0) hold chunks; internal nodes hold
// children of equal height along with each child's summary.
type node struct {
	height   uint8
	sum      Summary
	children []*node
	sums     []Summary
	chunks   []chunk
}

func (n *node) isLeaf() bool { return n.height == 0 }

func newLeaf(chunks []chunk) *node {
	n := &node{chunks: chunks}
	for _, c := range chunks {
		n.sum = n.sum.Add(c.sum)
	}
	return n
}

func newInternal(children []*node) *node {
	n := &node{
		height:   children[0].height + 1,
		children: children,
		sums:     make([]Summary, len(children)),
	}
	for i, c := range children {
		n.sums[i] = c.sum
		n.sum = n.sum.Add(c.sum)
	}
	return n
}

// build assembles a balanced tree over the chunks.
func build(chunks []chunk) *node {
	if len(chunks) == 0 {
		return nil
	}
	var level []*node
	for i := 0; i < len(chunks); i += MaxChunksPerLeaf {
		end := min(i+MaxChunksPerLeaf, len(chunks))
		level = append(level, newLeaf(append([]chunk(nil), chunks[i:end]...)))
	}
	for len(level) > 1 {
		var parents []*node
		for i := 0; i < len(level); i += MaxChildren {
			end := min(i+MaxChildren, len(level))
			parents = append(parents, newInternal(append([]*node(nil), level[i:end]...)))
		}
		level = parents
	}
	return level[0]
}

// concat joins two trees. Either may be nil.
func concat(a, b *node) *node {
	if a == nil || a.sum.Bytes == 0 {
		return b
	}
	if b == nil || b.sum.Bytes == 0 {
		return a
	}
	parts := join(a, b)
	if len(parts) == 1 {
		return parts[0]
	}
	return newInternal(parts)
}

// join merges a and b and returns one or two nodes at the height of the
// taller input.
func join(a, b *node) []*node {
	switch {
	case a.height == b.height:
		if a.isLeaf() {
			return packLeaves(mergeSeam(a.chunks, b.chunks))
		}
		kids := make([]*node, 0, len(a.children)+len(b.children))
		kids = append(kids, a.children...)
		kids = append(kids, b.children...)
		return packInternal(kids)
	case a.height > b.height:
		last := len(a.children) - 1
		kids := make([]*node, 0, len(a.children)+1)
		kids = append(kids, a.children[:last]...)
		kids = append(kids, join(a.children[last], b)...)
		return packInternal(kids)
	default:
		kids := make([]*node, 0, len(b.children)+1)
		kids = append(kids, join(a, b.children[0])...)
		kids = append(kids, b.children[1:]...)
		return packInternal(kids)
	}
}

// mergeSeam concatenates two chunk lists, fusing the chunks that meet in the
// middle when the result still fits in one chunk.
func mergeSeam(left, right []chunk) []chunk {
	out := make([]chunk, 0, len(left)+len(right))
	out = append(out, left...)
	if len(out) > 0 && len(right) > 0 && out[len(out)-1].len()+right[0].len() <= MaxChunkSize {
		out[len(out)-1] = newChunk(out[len(out)-1].text + right[0].text)
		right = right[1:]
	}
	return append(out, right...)
}

func packLeaves(chunks []chunk) []*node {
	if len(chunks) <= MaxChunksPerLeaf {
		return []*node{newLeaf(chunks)}
	}
	mid := len(chunks) / 2
	return []*node{
		newLeaf(append([]chunk(nil), chunks[:mid]...)),
		newLeaf(append([]chunk(nil), chunks[mid:]...)),
	}
}

func packInternal(kids []*node) []*node {
	if len(kids) <= MaxChildren {
		return []*node{newInternal(kids)}
	}
	mid := len(kids) / 2
	return []*node{
		newInternal(append([]*node(nil), kids[:mid]...)),
		newInternal(append([]*node(nil), kids[mid:]...)),
	}
}

// split cuts the tree at off. Either result may be nil when empty.
func split(n *node, off ByteOffset) (*node, *node) {
	if n == nil || off == 0 {
		return nil, n
	}
	if off >= n.sum.Bytes {
		return n, nil
	}
	if n.isLeaf() {
		var left, right []chunk
		pos := ByteOffset(0)
		for _, c := range n.chunks {
			end := pos + ByteOffset(c.len())
			switch {
			case end <= off:
				left = append(left, c)
			case pos >= off:
				right = append(right, c)
			default:
				l, r := c.splitAt(int(off - pos))
				left = append(left, l)
				right = append(right, r)
			}
			pos = end
		}
		return newLeaf(left), newLeaf(right)
	}

	pos := ByteOffset(0)
	for i, s := range n.sums {
		if off < pos+s.Bytes {
			l, r := split(n.children[i], off-pos)
			var before, after *node
			if i > 0 {
				before = collapse(newInternal(append([]*node(nil), n.children[:i]...)))
			}
			if i+1 < len(n.children) {
				after = collapse(newInternal(append([]*node(nil), n.children[i+1:]...)))
			}
			return concat(before, l), concat(r, after)
		}
		pos += s.Bytes
	}
	return n, nil
}

// collapse strips single-child internal nodes.
func collapse(n *node) *node {
	for n != nil && !n.isLeaf() && len(n.children) == 1 {
		n = n.children[0]
	}
	return n
}

func (n *node) writeRange(sb *strings.Builder, start, end ByteOffset) {
	if n.isLeaf() {
		pos := ByteOffset(0)
		for _, c := range n.chunks {
			cend := pos + ByteOffset(c.len())
			if cend > start && pos < end {
				lo := int(max(start, pos) - pos)
				hi := int(min(end, cend) - pos)
				sb.WriteString(c.text[lo:hi])
			}
			if cend >= end {
				return
			}
			pos = cend
		}
		return
	}
	pos := ByteOffset(0)
	for i, s := range n.sums {
		cend := pos + s.Bytes
		if cend > start && pos < end {
			n.children[i].writeRange(sb, max(start, pos)-pos, min(end, cend)-pos)
		}
		if cend >= end {
			return
		}
		pos = cend
	}
}

func (n *node) each(yield func(string) bool) bool {
	if n.isLeaf() {
		for _, c := range n.chunks {
			if !yield(c.text) {
				return false
			}
		}
		return true
	}
	for _, c := range n.children {
		if !c.each(yield) {
			return false
		}
	}
	return true
}
