package goid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetGIDDistinct(t *testing.T) {
	main := GetGID()
	assert.NotZero(t, main)

	var (
		wg    sync.WaitGroup
		other uint64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		other = GetGID()
	}()
	wg.Wait()

	assert.NotZero(t, other)
	assert.NotEqual(t, main, other)
	assert.Equal(t, main, GetGID())
}
