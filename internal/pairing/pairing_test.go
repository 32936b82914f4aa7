package pairing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tetherctl/internal/discovery"
	"tetherctl/internal/fetch"
	"tetherctl/internal/model"
	"tetherctl/internal/responder"
)

type fakeDiscoverer struct {
	results []discoverResult
	calls   int
}

type discoverResult struct {
	ep  model.DiscoveredEndpoint
	err error
}

func (f *fakeDiscoverer) Discover(context.Context) (model.DiscoveredEndpoint, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		return model.DiscoveredEndpoint{}, discovery.ErrDiscoveryFailed
	}
	return f.results[i].ep, f.results[i].err
}

type fakeFetcher struct {
	results []fetchResult
	seen    []model.DiscoveredEndpoint
}

type fetchResult struct {
	res fetch.Result
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, ep model.DiscoveredEndpoint) (fetch.Result, error) {
	i := len(f.seen)
	f.seen = append(f.seen, ep)
	if i >= len(f.results) {
		return fetch.Result{}, &fetch.Error{Reason: fetch.ReasonRefused, Endpoint: ep, Err: errors.New("refused")}
	}
	return f.results[i].res, f.results[i].err
}

var pixel = model.DiscoveredEndpoint{DisplayName: "Pixel", Host: "192.168.42.129", Port: 4000}

func TestPoll_UnpairedStaysUnpairedOnDiscoveryFailure(t *testing.T) {
	t.Parallel()

	d := &fakeDiscoverer{results: []discoverResult{{err: discovery.ErrDiscoveryTimeout}}}
	f := &fakeFetcher{}
	m := New(d, f, nil)

	res := m.Poll(context.Background())
	assert.Equal(t, model.Unpaired(), res.Status)
	assert.Nil(t, res.Reading)
	assert.ErrorIs(t, res.Err, discovery.ErrDiscoveryTimeout)
	assert.Empty(t, f.seen)
	assert.Equal(t, PhaseUnpaired, m.Phase())
}

func TestPoll_DiscoverThenFetchInSameTick(t *testing.T) {
	t.Parallel()

	reading := model.SignalReading{Quality: model.FourBars, Type: model.Type5G}
	d := &fakeDiscoverer{results: []discoverResult{{ep: pixel}}}
	f := &fakeFetcher{results: []fetchResult{{res: fetch.Result{Reading: reading, InterfaceName: "usb0"}}}}
	m := New(d, f, nil)

	res := m.Poll(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, model.Paired("Pixel"), res.Status)
	require.NotNil(t, res.Reading)
	assert.Equal(t, reading, *res.Reading)
	assert.Equal(t, "usb0", res.InterfaceName)
	assert.Equal(t, []model.DiscoveredEndpoint{pixel}, f.seen)
	assert.Equal(t, PhasePaired, m.Phase())
}

func TestPoll_PairedFetchesWithoutRediscovery(t *testing.T) {
	t.Parallel()

	ok := fetchResult{res: fetch.Result{Reading: model.SignalReading{Quality: model.TwoBars, Type: model.Type3G}}}
	d := &fakeDiscoverer{results: []discoverResult{{ep: pixel}}}
	f := &fakeFetcher{results: []fetchResult{ok, ok, ok}}
	m := New(d, f, nil)

	for i := 0; i < 3; i++ {
		res := m.Poll(context.Background())
		assert.True(t, res.Status.IsPaired(), "tick %d", i)
	}
	assert.Equal(t, 1, d.calls)
	assert.Len(t, f.seen, 3)
}

func TestPoll_FetchFailureUnpairsAndForgetsEndpoint(t *testing.T) {
	t.Parallel()

	ok := fetchResult{res: fetch.Result{Reading: model.SignalReading{Quality: model.OneBar, Type: model.TypeEdge}}}
	timeout := fetchResult{err: &fetch.Error{Reason: fetch.ReasonTimeout, Endpoint: pixel, Err: errors.New("i/o timeout")}}
	other := model.DiscoveredEndpoint{DisplayName: "Other", Host: "10.0.0.9", Port: 5000}

	d := &fakeDiscoverer{results: []discoverResult{{ep: pixel}, {ep: other}}}
	f := &fakeFetcher{results: []fetchResult{ok, timeout, ok}}
	m := New(d, f, nil)

	require.True(t, m.Poll(context.Background()).Status.IsPaired())

	res := m.Poll(context.Background())
	assert.Equal(t, model.Unpaired(), res.Status)
	assert.Nil(t, res.Reading)
	assert.Equal(t, "timeout", ReasonOf(res.Err))
	assert.Equal(t, PhaseUnpaired, m.Phase())

	res = m.Poll(context.Background())
	assert.Equal(t, model.Paired("Other"), res.Status)
	assert.Equal(t, other, f.seen[2])
}

func TestPoll_DiscoveredButFetchFails(t *testing.T) {
	t.Parallel()

	d := &fakeDiscoverer{results: []discoverResult{{ep: pixel}}}
	f := &fakeFetcher{}
	m := New(d, f, nil)

	res := m.Poll(context.Background())
	assert.Equal(t, model.Unpaired(), res.Status)
	assert.Equal(t, "refused", ReasonOf(res.Err))
}

func TestReasonOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", ReasonOf(nil))
	assert.Equal(t, "not_found", ReasonOf(fmt.Errorf("x: %w", discovery.ErrDiscoveryFailed)))
	assert.Equal(t, "decode", ReasonOf(&fetch.Error{Reason: fetch.ReasonDecode}))
	assert.Equal(t, "other", ReasonOf(errors.New("boom")))
}

// staticDiscoverer always returns the same endpoint.
type staticDiscoverer model.DiscoveredEndpoint

func (s staticDiscoverer) Discover(context.Context) (model.DiscoveredEndpoint, error) {
	return model.DiscoveredEndpoint(s), nil
}

func TestPoll_EndToEndAgainstResponder(t *testing.T) {
	t.Parallel()

	want := model.SignalReading{Quality: model.ThreeBars, Type: model.TypeLTE}
	r, err := responder.Listen("127.0.0.1:0", responder.StaticSource(want), nil)
	require.NoError(t, err)
	go func() { _ = r.Serve(context.Background()) }()

	ep := model.DiscoveredEndpoint{DisplayName: "Pixel", Host: "127.0.0.1", Port: uint16(r.Port())}
	f := fetch.New(time.Second, nil)
	f.Interface = func(net.IP) (string, error) { return "lo", nil }
	m := New(staticDiscoverer(ep), f, nil)

	res := m.Poll(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, model.Paired("Pixel"), res.Status)
	require.NotNil(t, res.Reading)
	assert.Equal(t, want, *res.Reading)
	assert.Equal(t, "lo", res.InterfaceName)

	require.NoError(t, r.Close())
	start := time.Now()
	res = m.Poll(context.Background())
	assert.Equal(t, model.Unpaired(), res.Status)
	assert.Equal(t, "refused", ReasonOf(res.Err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPoll_RefusedWithinBound(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())
	port, _ := strconv.Atoi(portStr)

	ep := model.DiscoveredEndpoint{DisplayName: "Pixel", Host: "127.0.0.1", Port: uint16(port)}
	m := New(staticDiscoverer(ep), fetch.New(time.Second, nil), nil)

	start := time.Now()
	res := m.Poll(context.Background())
	assert.Equal(t, model.Unpaired(), res.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}
