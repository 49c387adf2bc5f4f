package replica

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyAllAlwaysPushes(t *testing.T) {
	p := NewPolicy()
	remote := Remote{Name: "origin", Method: All}
	assert.True(t, p.ShouldPush(remote, time.Now()))
	assert.True(t, p.ShouldPush(remote, time.Now()))
}

func TestPolicyRandomRespectsProbability(t *testing.T) {
	p := NewPolicy()
	remote := Remote{Name: "origin", Method: Random, Param: 0.5}

	p.rng = func() float64 { return 0.4 }
	assert.True(t, p.ShouldPush(remote, time.Now()))

	p.rng = func() float64 { return 0.6 }
	assert.False(t, p.ShouldPush(remote, time.Now()))
}

func TestPolicyPeriodicFirstCallAlwaysPushes(t *testing.T) {
	p := NewPolicy()
	remote := Remote{Name: "origin", Method: Periodic, Param: 2}
	assert.True(t, p.ShouldPush(remote, time.Unix(0, 0)))
}

func TestPolicyPeriodicRespectsInterval(t *testing.T) {
	p := NewPolicy()
	remote := Remote{Name: "origin", Method: Periodic, Param: 2}

	assert.True(t, p.ShouldPush(remote, time.Unix(0, 0)))
	assert.False(t, p.ShouldPush(remote, time.Unix(1, 0)))
	assert.True(t, p.ShouldPush(remote, time.Unix(3, 0)))
}

func TestPolicyPeriodicIsPerRemote(t *testing.T) {
	p := NewPolicy()
	r1 := Remote{Name: "r1", Method: Periodic, Param: 10}
	r2 := Remote{Name: "r2", Method: Periodic, Param: 10}

	assert.True(t, p.ShouldPush(r1, time.Unix(0, 0)))
	assert.True(t, p.ShouldPush(r2, time.Unix(0, 0)))
}
