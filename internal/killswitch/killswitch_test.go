package killswitch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAndClear(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.IsBlocked(KindMcp, "github"))

	r.Set(KindMcp, "github", true)
	assert.True(t, r.IsBlocked(KindMcp, "github"))
	assert.False(t, r.IsBlocked(KindMcp, "filesystem"))

	r.Set(KindMcp, "github", false)
	assert.False(t, r.IsBlocked(KindMcp, "github"))
	assert.Empty(t, r.Blocked())
}

func TestInvocationBlockedCoversAllKinds(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.InvocationBlocked("github", "u1", "github.create_issue"))

	r.Set(KindUser, "u1", true)
	assert.True(t, r.InvocationBlocked("github", "u1", "github.create_issue"))
	assert.False(t, r.InvocationBlocked("github", "u2", "github.create_issue"))

	r.Set(KindUser, "u1", false)
	r.Set(KindTool, "github.create_issue", true)
	assert.True(t, r.InvocationBlocked("github", "u1", "github.create_issue"))
	assert.False(t, r.InvocationBlocked("github", "u1", "github.list_issues"))
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.Set(KindMcp, "m", j%2 == 0)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.InvocationBlocked("m", "u", "t")
			}
		}()
	}
	wg.Wait()
}
