package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quasar-go/glagol-go/pkg/metrics"
)

type mockBrowser struct {
	mock.Mock
}

func (m *mockBrowser) Browse(ctx context.Context) (<-chan Entry, error) {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(chan Entry)
	return ch, args.Error(1)
}

func speakerEntry(id, ip string) Entry {
	return Entry{
		Instance: "yandexio-" + id,
		HostName: "station-" + id + ".local.",
		Port:     1961,
		Text:     []string{"deviceId=" + id, "platform=yandexstation_2", "name=Kitchen"},
		IPv4:     []string{ip},
	}
}

func TestDecodeAdvertisement(t *testing.T) {
	t.Run("IPv4Preferred", func(t *testing.T) {
		e := speakerEntry("d1", "10.0.0.5")
		e.IPv6 = []string{"fe80::1"}
		adv, err := decodeAdvertisement(e)
		require.NoError(t, err)
		assert.Equal(t, Advertisement{
			DeviceID:     "d1",
			Platform:     "yandexstation_2",
			Name:         "Kitchen",
			Host:         "10.0.0.5",
			Port:         1961,
			InstanceName: "yandexio-d1",
			Addresses:    []string{"10.0.0.5", "fe80::1"},
		}, adv)
	})

	t.Run("IPv6Fallback", func(t *testing.T) {
		e := speakerEntry("d1", "")
		e.IPv4 = nil
		e.IPv6 = []string{"fe80::1"}
		adv, err := decodeAdvertisement(e)
		require.NoError(t, err)
		assert.Equal(t, "fe80::1", adv.Host)
	})

	t.Run("HostNameFallback", func(t *testing.T) {
		e := speakerEntry("d1", "")
		e.IPv4 = nil
		adv, err := decodeAdvertisement(e)
		require.NoError(t, err)
		assert.Equal(t, "station-d1.local", adv.Host)
		assert.Empty(t, adv.Addresses)
	})

	tests := []struct {
		name    string
		mutate  func(*Entry)
		wantErr error
	}{
		{"MissingDeviceID", func(e *Entry) { e.Text = []string{"platform=yandexmini"} }, ErrMissingRequired},
		{"MissingPlatform", func(e *Entry) { e.Text = []string{"deviceId=d1"} }, ErrMissingRequired},
		{"EmptyDeviceID", func(e *Entry) { e.Text = []string{"deviceId=", "platform=yandexmini"} }, ErrMissingRequired},
		{"ZeroPort", func(e *Entry) { e.Port = 0 }, ErrInvalidPort},
		{"PortTooLarge", func(e *Entry) { e.Port = 70000 }, ErrInvalidPort},
		{"NoAddress", func(e *Entry) { e.IPv4 = nil; e.HostName = "" }, ErrNoAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := speakerEntry("d1", "10.0.0.5")
			tt.mutate(&e)
			_, err := decodeAdvertisement(e)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTXTRecords(t *testing.T) {
	info := &SpeakerInfo{DeviceID: "d1", Platform: "yandexmini", Name: "Bedroom"}
	strs := TXTRecordsToStrings(EncodeTXT(info))
	assert.Equal(t, []string{"deviceId=d1", "name=Bedroom", "platform=yandexmini"}, strs)

	id, platform, name, err := DecodeTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, "d1", id)
	assert.Equal(t, "yandexmini", platform)
	assert.Equal(t, "Bedroom", name)

	txt := StringsToTXTRecords([]string{"flag", "k=v=w", ""})
	assert.Equal(t, TXTRecordMap{"flag": "", "k": "v=w"}, txt)

	assert.Len(t, TXTRecordsToStrings(EncodeTXT(&SpeakerInfo{DeviceID: "d", Platform: "p"})), 2)
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("yandexio-d1"))
	assert.Error(t, ValidateInstanceName(""))
	long := make([]byte, MaxInstanceNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, ValidateInstanceName(string(long)), ErrInstanceNameTooLong)
}

func TestNewFeedRequiresBrowser(t *testing.T) {
	_, err := NewFeed(FeedConfig{})
	assert.Error(t, err)
}

func TestFeedDispatchesToEveryListener(t *testing.T) {
	entries := make(chan Entry)
	b := &mockBrowser{}
	b.On("Browse", mock.Anything).Return(entries, nil).Once()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	feed, err := NewFeed(FeedConfig{Browser: b, Metrics: m})
	require.NoError(t, err)

	var mu sync.Mutex
	got := map[string][]string{}
	for _, name := range []string{"a", "b"} {
		name := name
		feed.AddListener(func(adv Advertisement) {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], adv.DeviceID)
		})
	}
	feed.AddListener(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	entries <- speakerEntry("d1", "10.0.0.5")
	entries <- Entry{Instance: "broken", Port: 1961}
	entries <- speakerEntry("d1", "10.0.0.5")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	feed.Wait()

	mu.Lock()
	defer mu.Unlock()
	// No dedup: the repeat is delivered too.
	assert.Equal(t, []string{"d1", "d1"}, got["a"])
	assert.Equal(t, []string{"d1", "d1"}, got["b"])
	expected := `
# HELP glagol_discovery_advertisements_total Total speaker advertisements by result
# TYPE glagol_discovery_advertisements_total counter
glagol_discovery_advertisements_total{result="accepted"} 2
glagol_discovery_advertisements_total{result="malformed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "glagol_discovery_advertisements_total"))
	b.AssertExpectations(t)
}

func TestFeedSlowListenerDoesNotBlock(t *testing.T) {
	b := &mockBrowser{}
	feed, err := NewFeed(FeedConfig{Browser: b})
	require.NoError(t, err)

	release := make(chan struct{})
	var fast sync.WaitGroup
	fast.Add(3)
	feed.AddListener(func(Advertisement) { <-release })
	feed.AddListener(func(Advertisement) { fast.Done() })

	for i := 0; i < 3; i++ {
		feed.Publish(speakerEntry("d1", "10.0.0.5"))
	}

	waited := make(chan struct{})
	go func() {
		fast.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("fast listener starved by slow listener")
	}

	close(release)
	feed.Wait()
}

func TestFeedPreservesOrderPerDevice(t *testing.T) {
	b := &mockBrowser{}
	feed, err := NewFeed(FeedConfig{Browser: b})
	require.NoError(t, err)

	var mu sync.Mutex
	var hosts []string
	feed.AddListener(func(adv Advertisement) {
		mu.Lock()
		defer mu.Unlock()
		hosts = append(hosts, adv.Host)
	})

	for round := 0; round < 200; round++ {
		mu.Lock()
		hosts = nil
		mu.Unlock()

		feed.Publish(speakerEntry("d1", "10.0.0.1"))
		feed.Publish(speakerEntry("d1", "10.0.0.2"))
		feed.Wait()

		mu.Lock()
		require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, hosts, "round %d", round)
		mu.Unlock()
	}
}

func TestFeedFullQueueKeepsLatestPerDevice(t *testing.T) {
	b := &mockBrowser{}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	feed, err := NewFeed(FeedConfig{Browser: b, Metrics: m})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	feed.AddListener(func(adv Advertisement) {
		mu.Lock()
		first := len(got) == 0
		got = append(got, adv.DeviceID+"@"+adv.Host)
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	})

	feed.Publish(speakerEntry("head", "10.0.1.1"))
	<-entered

	// Fill the queue behind the blocked listener.
	feed.Publish(speakerEntry("d1", "10.0.0.1"))
	for i := 1; i < listenerQueueSize; i++ {
		feed.Publish(speakerEntry(fmt.Sprintf("x%d", i), "10.0.2.1"))
	}
	feed.Publish(speakerEntry("d1", "10.0.0.2"))

	close(release)
	feed.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, listenerQueueSize+1)
	assert.Equal(t, "head@10.0.1.1", got[0])
	assert.Equal(t, "x1@10.0.2.1", got[1])
	assert.Equal(t, "d1@10.0.0.2", got[len(got)-1])
	assert.NotContains(t, got, "d1@10.0.0.1")
	expected := fmt.Sprintf(`
# HELP glagol_discovery_advertisements_total Total speaker advertisements by result
# TYPE glagol_discovery_advertisements_total counter
glagol_discovery_advertisements_total{result="accepted"} %d
glagol_discovery_advertisements_total{result="coalesced"} 1
`, listenerQueueSize+2)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "glagol_discovery_advertisements_total"))
}

func TestFeedBrowseError(t *testing.T) {
	b := &mockBrowser{}
	b.On("Browse", mock.Anything).Return(nil, errors.New("no multicast"))

	feed, err := NewFeed(FeedConfig{Browser: b})
	require.NoError(t, err)
	assert.EqualError(t, feed.Run(context.Background()), "no multicast")
}

func TestScan(t *testing.T) {
	entries := make(chan Entry, 4)
	entries <- speakerEntry("d1", "10.0.0.5")
	entries <- speakerEntry("d2", "10.0.0.6")
	entries <- speakerEntry("d1", "10.0.0.7")
	entries <- Entry{Instance: "junk"}
	close(entries)

	b := &mockBrowser{}
	b.On("Browse", mock.Anything).Return(entries, nil)

	found, err := Scan(context.Background(), b, time.Second)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "10.0.0.7", found["d1"].Host)
	assert.Equal(t, "10.0.0.6", found["d2"].Host)
}
