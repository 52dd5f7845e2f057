package hosts

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/stretchr/testify/require"
)

func addr(ip string, port uint16) authority.NetworkAddress {
	return authority.NetworkAddress{IP: net.ParseIP(ip), Port: port}
}

func tempHostsFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "hosts.txt")
}

func TestPoolDisabledByZeroCapacity(t *testing.T) {
	p := New(0, tempHostsFile(t), nil)
	require.NoError(t, p.Start())
	_, err := p.FetchOne()
	require.ErrorIs(t, err, errcode.New(errcode.NotFound))
	require.NoError(t, p.StoreOne(addr("1.2.3.4", 1)))
	require.Equal(t, 0, p.Count())
}

func TestPoolStartStopIdempotent(t *testing.T) {
	p := New(10, tempHostsFile(t), nil)
	require.NoError(t, p.Start())
	require.ErrorIs(t, p.Start(), errcode.New(errcode.OperationFailed))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}

func TestPoolFetchBeforeStartIsServiceStopped(t *testing.T) {
	p := New(10, tempHostsFile(t), nil)
	_, err := p.FetchOne()
	require.ErrorIs(t, err, errcode.New(errcode.ServiceStopped))
}

func TestPoolStoreDedupesAndFetches(t *testing.T) {
	p := New(10, tempHostsFile(t), nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.StoreOne(addr("1.2.3.4", 8333)))
	require.NoError(t, p.StoreOne(addr("1.2.3.4", 8333)))
	require.Equal(t, 1, p.Count())

	got, err := p.FetchOne()
	require.NoError(t, err)
	require.Equal(t, uint16(8333), got.Port)
}

func TestPoolStoreInvalidIsSilentlyIgnored(t *testing.T) {
	p := New(10, tempHostsFile(t), nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.StoreOne(addr("0.0.0.0", 0)))
	require.Equal(t, 0, p.Count())
}

func TestPoolEvictsOldestWhenFull(t *testing.T) {
	p := New(2, tempHostsFile(t), nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.StoreOne(addr("1.1.1.1", 1)))
	require.NoError(t, p.StoreOne(addr("2.2.2.2", 2)))
	require.NoError(t, p.StoreOne(addr("3.3.3.3", 3)))
	require.Equal(t, 2, p.Count())
	require.ErrorIs(t, p.Remove(addr("1.1.1.1", 1)), errcode.New(errcode.NotFound))
}

func TestPoolStoreManyInvokesHandlerOnce(t *testing.T) {
	p := New(100, tempHostsFile(t), nil)
	require.NoError(t, p.Start())

	list := make([]authority.NetworkAddress, 30)
	for i := range list {
		list[i] = addr("10.0.0.1", uint16(i+1))
	}

	calls := 0
	var handlerErr error
	p.StoreMany(list, func(err error) {
		calls++
		handlerErr = err
	})
	require.Equal(t, 1, calls)
	require.NoError(t, handlerErr)
	require.GreaterOrEqual(t, p.Count(), 1)
	require.LessOrEqual(t, p.Count(), 100)
}

func TestPoolRemove(t *testing.T) {
	p := New(10, tempHostsFile(t), nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.StoreOne(addr("5.5.5.5", 5)))
	require.NoError(t, p.Remove(addr("5.5.5.5", 5)))
	require.ErrorIs(t, p.Remove(addr("5.5.5.5", 5)), errcode.New(errcode.NotFound))
}

func TestPoolPersistsAcrossRestart(t *testing.T) {
	path := tempHostsFile(t)
	p := New(10, path, nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.StoreOne(addr("9.9.9.9", 9)))
	require.NoError(t, p.Stop())

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected hosts file to exist: %v", err)
	}

	p2 := New(10, path, nil)
	require.NoError(t, p2.Start())
	require.Equal(t, 1, p2.Count())
}

func TestPoolLoadSkipsMalformedAndZeroPortLines(t *testing.T) {
	path := tempHostsFile(t)
	require.NoError(t, os.WriteFile(path, []byte("not-an-authority\n1.2.3.4:0\n1.2.3.4:8333\n"), 0o644))

	p := New(10, path, nil)
	require.NoError(t, p.Start())
	require.Equal(t, 1, p.Count())
}

func TestPoolFetchManyBoundedByCapacity(t *testing.T) {
	p := New(5, tempHostsFile(t), nil)
	require.NoError(t, p.Start())
	for i := 0; i < 5; i++ {
		require.NoError(t, p.StoreOne(addr("1.2.3.4", uint16(i+1))))
	}
	got, err := p.FetchMany()
	require.NoError(t, err)
	require.LessOrEqual(t, len(got), 5)
}
