package spatial

import (
	"math/rand"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

type object struct {
	id     int
	bounds Box[Vec3]
}

func (o *object) Bounds() Box[Vec3] {
	return o.bounds
}

func newTestOctree(t *testing.T) *Tree[Vec3, *object] {
	tree, err := NewOctree[*object](cube(-100, 100), 1)
	require.NoError(t, err)
	return tree
}

func point(x, y, z float32) Box[Vec3] {
	return BoxAround(Vec3{X: x, Y: y, Z: z}, 0)
}

func randomBox(rnd *rand.Rand, min, max, size float32) Box[Vec3] {
	c := Vec3{
		X: min + rnd.Float32()*(max-min-size),
		Y: min + rnd.Float32()*(max-min-size),
		Z: min + rnd.Float32()*(max-min-size),
	}
	return NewBox(c, c.Add(Vec3{X: size, Y: size, Z: size}))
}

func ids(objects []*object) []int {
	res := make([]int, len(objects))
	for i, o := range objects {
		res[i] = o.id
	}
	return res
}

func TestNewTree(t *testing.T) {
	tests := []struct {
		scenario  string
		bounds    Box[Vec3]
		threshold float32
		err       bool
	}{
		{
			scenario:  "valid config",
			bounds:    cube(-1, 1),
			threshold: 0.1,
		},
		{
			scenario:  "inverted bounds",
			bounds:    cube(1, -1),
			threshold: 0.1,
			err:       true,
		},
		{
			scenario:  "zero threshold",
			bounds:    cube(-1, 1),
			threshold: 0,
			err:       true,
		},
		{
			scenario:  "negative threshold",
			bounds:    cube(-1, 1),
			threshold: -2,
			err:       true,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			tree, err := NewOctree[*object](test.bounds, test.threshold)
			if test.err {
				require.Error(t, err)
				require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
				return
			}

			require.NoError(t, err)
			require.Equal(t, 8, tree.Fanout())
			require.Equal(t, test.bounds, tree.Bounds())
			require.Equal(t, test.threshold, tree.Threshold())
			require.Zero(t, tree.Count())
		})
	}
}

func TestTreeInsertPoint(t *testing.T) {
	tree := newTestOctree(t)
	o := &object{id: 1, bounds: point(5, 5, 5)}

	h, err := tree.Insert(o)
	require.NoError(t, err)
	require.False(t, h.IsZero())
	require.True(t, tree.Contains(h))
	require.Equal(t, 1, tree.Count())

	require.Equal(t, []*object{o}, tree.QueryAll(cube(0, 10)))
	require.Empty(t, tree.QueryAll(cube(-50, -40)))
	require.NoError(t, tree.Verify())

	v, ok := tree.Value(h)
	require.True(t, ok)
	require.Equal(t, o, v)

	b, ok := tree.BoundsOf(h)
	require.True(t, ok)
	require.Equal(t, o.bounds, b)
}

func TestTreeInsertOutOfUniverse(t *testing.T) {
	tree := newTestOctree(t)

	_, err := tree.Insert(&object{bounds: cube(90, 110)})
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeOutOfUniverse))

	_, err = tree.Insert(&object{bounds: cube(1, -1)})
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeOutOfUniverse))

	require.Zero(t, tree.Count())
	require.Equal(t, 1, tree.Stats().Nodes)
}

func TestTreeInsertSubdividesDownToThreshold(t *testing.T) {
	tree := newTestOctree(t)

	h, err := tree.Insert(&object{bounds: point(5, 5, 5)})
	require.NoError(t, err)

	// Node sizes go 200, 100, 50, 25, 12.5, 6.25, 3.125 and 1.5625. The
	// latter cannot be split with a threshold of 1.
	stats := tree.Stats()
	require.Equal(t, 7, stats.MaxDepth)
	require.Equal(t, 1+7*8, stats.Nodes)

	nb, ok := tree.NodeBoundsOf(h)
	require.True(t, ok)
	require.Equal(t, float32(1.5625), nb.Max.X-nb.Min.X)
	require.True(t, nb.ContainsPoint(Vec3{X: 5, Y: 5, Z: 5}))
}

func TestTreeInsertStraddlingMidplane(t *testing.T) {
	tree := newTestOctree(t)

	_, err := tree.Insert(&object{id: 1, bounds: point(5, 5, 5)})
	require.NoError(t, err)

	h, err := tree.Insert(&object{id: 2, bounds: cube(-1, 1)})
	require.NoError(t, err)

	nb, ok := tree.NodeBoundsOf(h)
	require.True(t, ok)
	require.Equal(t, tree.Bounds(), nb)

	stats := tree.Stats()
	require.Equal(t, 1, stats.RootObjects)
	require.NoError(t, tree.Verify())
}

func TestTreeInsertAll(t *testing.T) {
	tree := newTestOctree(t)

	handles, err := tree.InsertAll(
		&object{id: 1, bounds: point(1, 1, 1)},
		&object{id: 2, bounds: point(2, 2, 2)},
		&object{id: 3, bounds: point(200, 2, 2)},
		&object{id: 4, bounds: point(3, 3, 3)},
	)
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeOutOfUniverse))
	require.Len(t, handles, 2)
	require.Equal(t, 2, tree.Count())
}

func TestTreeRemove(t *testing.T) {
	tree := newTestOctree(t)

	a, err := tree.Insert(&object{id: 1, bounds: point(5, 5, 5)})
	require.NoError(t, err)
	b, err := tree.Insert(&object{id: 2, bounds: point(5.1, 5.1, 5.1)})
	require.NoError(t, err)
	require.Greater(t, tree.Stats().Nodes, 1)

	require.NoError(t, tree.Remove(a))
	require.False(t, tree.Contains(a))
	require.Equal(t, []int{2}, ids(tree.QueryAll(cube(0, 10))))
	require.NoError(t, tree.Verify())

	require.NoError(t, tree.Remove(b))
	require.Zero(t, tree.Count())
	require.Empty(t, tree.QueryAll(tree.Bounds()))

	stats := tree.Stats()
	require.Equal(t, 1, stats.Nodes)
	require.Equal(t, 1, stats.Leaves)
	require.Equal(t, uint64(7), stats.Merges)
	require.NoError(t, tree.Verify())

	_, err = tree.Insert(&object{id: 3, bounds: point(-5, 5, 5)})
	require.NoError(t, err)
	require.Equal(t, 7, tree.Stats().MaxDepth)
	require.NoError(t, tree.Verify())
}

func TestTreeRemoveKeepsOccupiedGroups(t *testing.T) {
	tree := newTestOctree(t)

	a, err := tree.Insert(&object{id: 1, bounds: point(50, 50, 50)})
	require.NoError(t, err)
	_, err = tree.Insert(&object{id: 2, bounds: point(-50, -50, -50)})
	require.NoError(t, err)

	require.NoError(t, tree.Remove(a))
	stats := tree.Stats()
	require.Equal(t, 7, stats.MaxDepth)
	require.Equal(t, 1+7*8, stats.Nodes)
	require.NoError(t, tree.Verify())
}

func TestTreeRemoveNotIndexed(t *testing.T) {
	tree := newTestOctree(t)

	err := tree.Remove(Handle{})
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeNotIndexed))

	h, err := tree.Insert(&object{bounds: point(1, 1, 1)})
	require.NoError(t, err)
	require.NoError(t, tree.Remove(h))

	err = tree.Remove(h)
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeNotIndexed))

	// The slot gets reused with another generation.
	h2, err := tree.Insert(&object{bounds: point(2, 2, 2)})
	require.NoError(t, err)
	require.NotEqual(t, h, h2)
	require.False(t, tree.Contains(h))

	_, err = tree.Update(h)
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeNotIndexed))

	_, ok := tree.Value(h)
	require.False(t, ok)
}

func TestTreeUpdateFastPath(t *testing.T) {
	tree := newTestOctree(t)

	o := &object{bounds: point(5, 5, 5)}
	h, err := tree.Insert(o)
	require.NoError(t, err)
	_, err = tree.Insert(&object{bounds: point(-20, 3, 8)})
	require.NoError(t, err)

	nb, _ := tree.NodeBoundsOf(h)
	before := tree.Stats()

	o.bounds = point(nb.Center().X, nb.Center().Y, nb.Center().Z)
	moved, err := tree.Update(h)
	require.NoError(t, err)
	require.False(t, moved)

	after, _ := tree.NodeBoundsOf(h)
	require.Equal(t, nb, after)
	require.Equal(t, before, tree.Stats())

	b, _ := tree.BoundsOf(h)
	require.Equal(t, o.bounds, b)
	require.NoError(t, tree.Verify())
}

func TestTreeUpdateRelocates(t *testing.T) {
	tree := newTestOctree(t)

	o := &object{id: 1, bounds: cube(4, 5)}
	h, err := tree.Insert(o)
	require.NoError(t, err)
	_, err = tree.Insert(&object{id: 2, bounds: cube(6, 7)})
	require.NoError(t, err)

	old := o.bounds
	o.bounds = cube(-60, -59)

	moved, err := tree.Update(h)
	require.NoError(t, err)
	require.True(t, moved)

	require.Equal(t, []int{1}, ids(tree.QueryAll(o.bounds)))
	require.NotContains(t, ids(tree.QueryAll(old)), 1)
	require.Equal(t, uint64(1), tree.Stats().Relocations)
	require.NoError(t, tree.Verify())

	nb, _ := tree.NodeBoundsOf(h)
	require.True(t, nb.Contains(o.bounds))
}

func TestTreeUpdateOutOfUniverse(t *testing.T) {
	tree := newTestOctree(t)

	o := &object{id: 1, bounds: point(5, 5, 5)}
	h, err := tree.Insert(o)
	require.NoError(t, err)

	o.bounds = point(500, 5, 5)
	moved, err := tree.Update(h)
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeOutOfUniverse))
	require.False(t, moved)

	require.True(t, tree.Contains(h))
	b, _ := tree.BoundsOf(h)
	require.Equal(t, point(5, 5, 5), b)
	require.Equal(t, []int{1}, ids(tree.QueryAll(cube(0, 10))))
	require.NoError(t, tree.Verify())
}

func TestTreeClear(t *testing.T) {
	tree := newTestOctree(t)
	rnd := rand.New(rand.NewSource(7))

	var handles []Handle
	for i := 0; i < 50; i++ {
		h, err := tree.Insert(&object{id: i, bounds: randomBox(rnd, -100, 100, 2)})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	tree.Clear()
	require.Zero(t, tree.Count())
	require.Equal(t, 1, tree.Stats().Nodes)
	require.Empty(t, tree.QueryAll(tree.Bounds()))
	for _, h := range handles {
		require.False(t, tree.Contains(h))
	}
	require.NoError(t, tree.Verify())

	h, err := tree.Insert(&object{bounds: point(1, 2, 3)})
	require.NoError(t, err)
	require.True(t, tree.Contains(h))
	require.NoError(t, tree.Verify())
}

func TestTreeRandomOperations(t *testing.T) {
	tree := newTestOctree(t)
	rnd := rand.New(rand.NewSource(42))

	live := make(map[Handle]*object)
	nextID := 0

	for step := 0; step < 3000; step++ {
		switch op := rnd.Intn(10); {
		case op < 4 || len(live) == 0:
			o := &object{id: nextID, bounds: randomBox(rnd, -100, 100, rnd.Float32()*10)}
			nextID++

			h, err := tree.Insert(o)
			require.NoError(t, err)
			live[h] = o

		case op < 6:
			for h := range live {
				require.NoError(t, tree.Remove(h))
				delete(live, h)
				break
			}

		default:
			for h, o := range live {
				if rnd.Intn(2) == 0 {
					o.bounds = randomBox(rnd, -100, 100, rnd.Float32()*10)
				} else {
					o.bounds = NewBox(o.bounds.Min.Add(Vec3{X: 0.05}), o.bounds.Max.Add(Vec3{X: 0.05}))
				}

				_, err := tree.Update(h)
				if !tree.Bounds().Contains(o.bounds) {
					require.True(t, errors.IsType(err, ErrTypeOutOfUniverse))
					require.NoError(t, tree.Remove(h))
					delete(live, h)
				} else {
					require.NoError(t, err)
				}
				break
			}
		}

		require.Equal(t, len(live), tree.Count())
		if step%50 == 0 {
			require.NoError(t, tree.Verify())

			volume := randomBox(rnd, -100, 100, rnd.Float32()*60)
			var expected []int
			for _, o := range live {
				if o.bounds.Intersects(volume) {
					expected = append(expected, o.id)
				}
			}
			require.ElementsMatch(t, expected, ids(tree.QueryAll(volume)))
		}
	}

	for h := range live {
		require.NoError(t, tree.Remove(h))
	}
	require.Equal(t, 1, tree.Stats().Nodes)
	require.NoError(t, tree.Verify())
}

func TestQuadtree(t *testing.T) {
	tree, err := NewQuadtree[*flatObject](NewBox(Vec2{X: 0, Y: 0}, Vec2{X: 64, Y: 64}), 2)
	require.NoError(t, err)
	require.Equal(t, 4, tree.Fanout())

	a := &flatObject{id: 1, bounds: NewBox(Vec2{X: 1, Y: 1}, Vec2{X: 2, Y: 2})}
	b := &flatObject{id: 2, bounds: NewBox(Vec2{X: 30, Y: 30}, Vec2{X: 34, Y: 34})}

	ha, err := tree.Insert(a)
	require.NoError(t, err)
	hb, err := tree.Insert(b)
	require.NoError(t, err)

	// 64, 32, 16, 8 and 4. Children of a 4 wide node would have a half
	// extent equal to the threshold.
	require.Equal(t, 4, tree.Stats().MaxDepth)

	nb, _ := tree.NodeBoundsOf(hb)
	require.Equal(t, tree.Bounds(), nb)

	res := tree.QueryAll(NewBox(Vec2{X: 0, Y: 0}, Vec2{X: 10, Y: 10}))
	require.Equal(t, []*flatObject{a}, res)

	a.bounds = NewBox(Vec2{X: 60, Y: 60}, Vec2{X: 61, Y: 61})
	moved, err := tree.Update(ha)
	require.NoError(t, err)
	require.True(t, moved)
	require.Empty(t, tree.QueryAll(NewBox(Vec2{X: 0, Y: 0}, Vec2{X: 10, Y: 10})))
	require.Len(t, tree.QueryAll(tree.Bounds()), 2)
	require.NoError(t, tree.Verify())
}

type flatObject struct {
	id     int
	bounds Box[Vec2]
}

func (o *flatObject) Bounds() Box[Vec2] {
	return o.bounds
}
