package collective_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemblelab/collectives/collective"
	"github.com/ensemblelab/collectives/comm"
	"github.com/ensemblelab/collectives/simnet"
)

// spawnGroups runs f once per rank on a simulated group
// of the given size and waits for every rank to finish.
func spawnGroups(t *testing.T, size int, reducer comm.Allreducer, f func(c *collective.Group)) {
	t.Helper()
	loop := simnet.NewLoop()
	nodes := make([]*simnet.Node, size)
	for i := range nodes {
		nodes[i] = simnet.NewNode(loop)
	}
	network := simnet.NewLinkNetwork(1e-4, 1e9)
	comm.Spawn(loop, network, nodes, func(g *comm.Group) {
		g.Reducer = reducer
		f(collective.NewGroup(g))
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
}

func TestGroupScalarsOverNetwork(t *testing.T) {
	for _, size := range []int{2, 4, 5} {
		for name, reducer := range map[string]comm.Allreducer{
			"Naive": comm.NaiveAllreducer{},
			"Tree":  comm.TreeAllreducer{},
		} {
			t.Run(fmt.Sprintf("Size=%d,Algo=%s", size, name), func(t *testing.T) {
				sums := make([]any, size)
				avgs := make([]any, size)
				intSums := make([]any, size)
				intAvgs := make([]any, size)
				spawnGroups(t, size, reducer, func(c *collective.Group) {
					rank := c.Rank()
					var err error
					sums[rank], err = c.Reduce(1.0, collective.OpSum)
					assert.NoError(t, err)
					avgs[rank], err = c.Reduce(1.0, collective.OpAvg)
					assert.NoError(t, err)
					intSums[rank], err = c.Reduce(rank+1, collective.OpSum)
					assert.NoError(t, err)
					intAvgs[rank], err = c.Reduce(1, collective.OpAvg)
					assert.NoError(t, err)
				})
				for rank := 0; rank < size; rank++ {
					assert.Equal(t, float64(size), sums[rank])
					assert.InDelta(t, 1.0, avgs[rank].(float64), 1e-12)
					assert.Equal(t, size*(size+1)/2, intSums[rank])
					assert.InDelta(t, 1.0, intAvgs[rank].(float64), 1e-12)
				}
			})
		}
	}
}

func TestGroupBuffersOverNetwork(t *testing.T) {
	const size = 4
	results := make([][]float64, size)
	originals := make([][]float64, size)
	spawnGroups(t, size, nil, func(c *collective.Group) {
		rank := c.Rank()
		orig := []float64{float64(rank), 1, 2}
		res, err := c.Reduce(orig, collective.OpSum)
		assert.NoError(t, err)
		results[rank] = res.([]float64)
		originals[rank] = orig
	})
	for rank := 0; rank < size; rank++ {
		assert.Equal(t, []float64{6, 4, 8}, results[rank])
		// Value semantics: the input binding is untouched.
		assert.Equal(t, []float64{float64(rank), 1, 2}, originals[rank])
	}
}

func TestGroupVectorsOverNetwork(t *testing.T) {
	const size = 4
	vecs := make([]*collective.SliceVector, size)
	returned := make([]any, size)
	spawnGroups(t, size, nil, func(c *collective.Group) {
		rank := c.Rank()
		vec := collective.VectorOf([]float64{1, 1, 1, 1, 1})
		vecs[rank] = vec
		res, err := c.Reduce(vec, collective.OpSum)
		assert.NoError(t, err)
		returned[rank] = res
	})
	for rank := 0; rank < size; rank++ {
		// Overwrite contract: the handle reflects the
		// reduced result and is also the return value.
		assert.Same(t, vecs[rank], returned[rank])
		assert.Equal(t, []float64{4, 4, 4, 4, 4}, vecs[rank].Local())
	}
}

func TestGroupEnsembleOverNetwork(t *testing.T) {
	const size, nvec, vecLen = 4, 10, 7
	ensembles := make([]*collective.Ensemble, size)
	spawnGroups(t, size, nil, func(c *collective.Group) {
		rank := c.Rank()
		vecs := make([]collective.Vector, nvec)
		for i := range vecs {
			col := make([]float64, vecLen)
			for j := range col {
				col[j] = float64(i + 1)
			}
			vecs[i] = collective.VectorOf(col)
		}
		mv := collective.NewEnsemble(vecs...)
		ensembles[rank] = mv
		_, err := c.Reduce(mv, collective.OpAvg)
		assert.NoError(t, err)
	})
	for rank := 0; rank < size; rank++ {
		mv := ensembles[rank]
		require.Equal(t, nvec, mv.NVec())
		for i := 0; i < nvec; i++ {
			for _, x := range mv.Vec(i).Local() {
				// Identical columns on every rank, so the
				// average is the column itself; distinct
				// per-column values rule out cross-column
				// coupling.
				assert.InDelta(t, float64(i+1), x, 1e-12)
			}
		}
	}
}

func TestGroupBcastOverNetwork(t *testing.T) {
	const size = 4
	for _, root := range []int{0, size - 1} {
		t.Run(fmt.Sprintf("Root=%d", root), func(t *testing.T) {
			bufs := make([][]float64, size)
			vecs := make([]*collective.SliceVector, size)
			scalars := make([]any, size)
			spawnGroups(t, size, nil, func(c *collective.Group) {
				rank := c.Rank()

				buf := make([]float64, 10)
				vecData := make([]float64, 10)
				scalar := 0.0
				if rank == root {
					for i := range buf {
						buf[i] = 1
						vecData[i] = math.Pi
					}
					scalar = 42.5
				}

				res, err := c.Bcast(buf, root)
				assert.NoError(t, err)
				bufs[rank] = res.([]float64)

				vec := collective.VectorOf(vecData)
				vecs[rank] = vec
				_, err = c.Bcast(vec, root)
				assert.NoError(t, err)

				scalars[rank], err = c.Bcast(scalar, root)
				assert.NoError(t, err)
			})
			ones := make([]float64, 10)
			pis := make([]float64, 10)
			for i := range ones {
				ones[i] = 1
				pis[i] = math.Pi
			}
			for rank := 0; rank < size; rank++ {
				assert.Equal(t, ones, bufs[rank])
				assert.Equal(t, pis, vecs[rank].Local())
				assert.Equal(t, 42.5, scalars[rank])
			}
		})
	}
}

func TestGroupEnsembleBcastOverNetwork(t *testing.T) {
	const size, nvec, vecLen = 4, 5, 6
	ensembles := make([]*collective.Ensemble, size)
	spawnGroups(t, size, nil, func(c *collective.Group) {
		rank := c.Rank()
		mv := collective.NewEnsembleLike(collective.NewSliceVector(vecLen), nvec)
		if rank == 0 {
			for i := 0; i < nvec; i++ {
				col := make([]float64, vecLen)
				for j := range col {
					col[j] = float64(i + 1)
				}
				assert.NoError(t, mv.Vec(i).SetLocal(col))
			}
		}
		ensembles[rank] = mv
		res, err := c.Bcast(mv, 0)
		assert.NoError(t, err)
		assert.Same(t, mv, res)
	})
	for rank := 0; rank < size; rank++ {
		mv := ensembles[rank]
		for i := 0; i < nvec; i++ {
			for _, x := range mv.Vec(i).Local() {
				assert.Equal(t, float64(i+1), x)
			}
		}
	}
}

// TestGroupCallSequence issues several collectives
// back-to-back to make sure consecutive operations do not
// bleed into one another.
func TestGroupCallSequence(t *testing.T) {
	const size = 3
	type outcome struct {
		sum   any
		bcast any
		avg   any
	}
	outcomes := make([]outcome, size)
	spawnGroups(t, size, nil, func(c *collective.Group) {
		rank := c.Rank()
		var o outcome
		var err error
		o.sum, err = c.Reduce([]float64{1, float64(rank)}, collective.OpSum)
		assert.NoError(t, err)
		o.bcast, err = c.Bcast(float64(rank), 1)
		assert.NoError(t, err)
		o.avg, err = c.Reduce(6.0, collective.OpAvg)
		assert.NoError(t, err)
		outcomes[rank] = o
	})
	for rank := 0; rank < size; rank++ {
		assert.Equal(t, []float64{3, 3}, outcomes[rank].sum)
		assert.Equal(t, 1.0, outcomes[rank].bcast)
		assert.InDelta(t, 6.0, outcomes[rank].avg.(float64), 1e-12)
	}
}

func TestGroupSingleRankGroup(t *testing.T) {
	spawnGroups(t, 1, nil, func(c *collective.Group) {
		res, err := c.Reduce(2.5, collective.OpSum)
		assert.NoError(t, err)
		assert.Equal(t, 2.5, res)

		res, err = c.Bcast([]float64{1, 2}, 0)
		assert.NoError(t, err)
		assert.Equal(t, []float64{1, 2}, res)
	})
}

// TestGroupSkippedCallDeadlocks makes sure a rank that
// skips a collective call is detected as a deadlock by
// the event loop rather than hanging forever.
func TestGroupSkippedCallDeadlocks(t *testing.T) {
	loop := simnet.NewLoop()
	nodes := []*simnet.Node{simnet.NewNode(loop), simnet.NewNode(loop)}
	network := simnet.NewLinkNetwork(1e-4, 1e9)
	comm.Spawn(loop, network, nodes, func(g *comm.Group) {
		if g.Rank() == 0 {
			c := collective.NewGroup(g)
			c.Reduce([]float64{1, 2, 3}, collective.OpSum)
		}
		// Rank 1 returns without participating.
	})
	assert.Error(t, loop.Run())
}
