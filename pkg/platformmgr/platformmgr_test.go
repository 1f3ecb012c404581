package platformmgr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/cardkit/pkg/cardkiterr"
	"github.com/gregLibert/cardkit/pkg/platform"
	"github.com/gregLibert/cardkit/pkg/transport"
	"github.com/gregLibert/cardkit/pkg/transport/faketransport"
)

func TestMain(m *testing.M) {
	m.Run()
	ResetForTest()
}

func TestGetPlatform_FailsWithoutFactory(t *testing.T) {
	ResetForTest()
	_, err := GetPlatform()
	require.Error(t, err)
	assert.Equal(t, cardkiterr.PlatformError, cardkiterr.Of(err))
}

func TestGetPlatform_LazyConstructsOnce(t *testing.T) {
	ResetForTest()
	calls := 0
	Configure(func() (transport.Transport, error) {
		calls++
		return faketransport.New(), nil
	}, nil)

	p1, err := GetPlatform()
	require.NoError(t, err)
	p2, err := GetPlatform()
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls)
}

func TestGetPlatform_ConcurrentCallsShareInstance(t *testing.T) {
	ResetForTest()
	Configure(func() (transport.Transport, error) {
		return faketransport.New(), nil
	}, nil)

	const n = 20
	results := make([]*platform.Platform, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p, err := GetPlatform()
			require.NoError(t, err)
			results[idx] = p
		}(i)
	}
	wg.Wait()

	for _, p := range results {
		assert.Same(t, results[0], p)
	}
}
