package session

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/qkd/basis"
)

// TestTryStartSiftingSingleWinner hammers the sift transition from many
// goroutines at once. Exactly one caller may win, no matter how the two
// real trigger sites interleave.
func TestTryStartSiftingSingleWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		st := NewStore()
		sess, err := st.Create("race", RoleInitiator, 8)
		require.NoError(t, err)
		sess.SetLocalResult(
			[]basis.Basis{basis.Rectilinear, basis.Diagonal},
			[]byte{1, 0},
			nil,
		)
		sess.SetPeerBases([]basis.Basis{basis.Rectilinear, basis.Diagonal})

		const callers = 8
		var wins int32
		var start, done sync.WaitGroup
		start.Add(1)
		done.Add(callers)
		for i := 0; i < callers; i++ {
			go func() {
				defer done.Done()
				start.Wait()
				if sess.TryStartSifting() {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		start.Done()
		done.Wait()

		assert.Equal(t, int32(1), wins, "round %d", round)
		assert.Equal(t, StatusSifting, sess.Status())
	}
}

// TestConcurrentSnapshotAndMutation runs readers against writers to shake
// out torn reads; the race detector does the actual checking.
func TestConcurrentSnapshotAndMutation(t *testing.T) {
	st := NewStore()
	sess, err := st.Create("h", RoleResponder, 8)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				sess.SetPeerBases([]basis.Basis{basis.Diagonal})
				sess.SetLocalResult([]basis.Basis{basis.Diagonal}, nil, []basis.Symbol{basis.Blue})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = sess.Snapshot()
				_ = sess.Status()
			}
		}()
	}
	wg.Wait()
}
