package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeClosesInLIFOOrder(t *testing.T) {
	sc := newScope()
	var order []int

	sc.add(func() { order = append(order, 1) })
	sc.add(func() { order = append(order, 2) })
	sc.add(func() { order = append(order, 3) })

	sc.close()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestScopeCloseIsIdempotent(t *testing.T) {
	sc := newScope()
	calls := 0
	sc.add(func() { calls++ })

	sc.close()
	sc.close()

	assert.Equal(t, 1, calls)
}

func TestScopeAddAfterCloseRunsImmediately(t *testing.T) {
	sc := newScope()
	sc.close()

	ran := false
	sc.add(func() { ran = true })

	assert.True(t, ran)
}
