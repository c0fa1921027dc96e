package acquire

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nist-peakdrv/peakdrv/internal/codec"
	"github.com/nist-peakdrv/peakdrv/internal/mockinstrument"
	"github.com/nist-peakdrv/peakdrv/internal/transport"
)

func startMockAndEngine(t *testing.T, cfg mockinstrument.Config) (*Engine, *mockinstrument.Server) {
	srv, err := mockinstrument.Start(cfg, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop() })

	host, portStr, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	tr := transport.New()
	require.NoError(t, tr.Connect(host, port))
	t.Cleanup(func() { tr.Close() })

	params := codec.FramingParams{
		FormatCode:  cfg.FormatCode,
		AscanLength: cfg.AscanLength,
		NumAscans:   cfg.NumAscans,
		GateStart:   0,
		GateEnd:     cfg.AscanLength,
	}
	return New(tr, params), srv
}

func TestEngine_AcquireOnce(t *testing.T) {
	cfg := mockinstrument.DefaultConfig()
	eng, srv := startMockAndEngine(t, cfg)

	require.NoError(t, eng.AcquireOnce())
	require.Equal(t, int64(1), srv.DataRequestCount())

	f := eng.LatestFrame()
	require.Len(t, f.SubFrames, cfg.NumAscans)
	require.Greater(t, f.MaxAmplitude, int32(0))
}

func TestEngine_AcquireOnce_UsageErrorWhileAsync(t *testing.T) {
	cfg := mockinstrument.DefaultConfig()
	eng, _ := startMockAndEngine(t, cfg)

	require.NoError(t, eng.StartAsync(nil))
	defer eng.StopAsync()

	// Give the pipeline a moment to actually transition.
	time.Sleep(20 * time.Millisecond)
	err := eng.AcquireOnce()
	require.Error(t, err)
}

func TestEngine_StartAsync_IsIdempotent(t *testing.T) {
	cfg := mockinstrument.DefaultConfig()
	eng, _ := startMockAndEngine(t, cfg)

	require.NoError(t, eng.StartAsync(nil))
	require.NoError(t, eng.StartAsync(nil)) // no-op, must not error or deadlock
	require.NoError(t, eng.StopAsync())
}

func TestEngine_AsyncContinuity(t *testing.T) {
	cfg := mockinstrument.DefaultConfig()
	cfg.NumAscans = 4
	cfg.AscanLength = 16
	eng, _ := startMockAndEngine(t, cfg)

	validCount := 0
	done := make(chan struct{})
	require.NoError(t, eng.StartAsync(func(valid bool) {
		if valid {
			validCount++
		}
		if validCount >= 20 {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only saw %d valid frames in 5s, want at least 20", validCount)
	}
	require.NoError(t, eng.StopAsync())
}

func TestEngine_StopAsync_BlocksUntilJoined(t *testing.T) {
	cfg := mockinstrument.DefaultConfig()
	eng, _ := startMockAndEngine(t, cfg)

	require.NoError(t, eng.StartAsync(nil))
	require.NoError(t, eng.StopAsync())
	require.Equal(t, Idle, eng.State())

	// A second StopAsync while already idle must be a harmless no-op.
	require.NoError(t, eng.StopAsync())
}

// TestAsyncSoak mirrors original_source/tests/test_stress.cpp's
// AsyncRapidStartStop: repeated start/stop cycles on the same connection,
// ending with one final round that must still produce a clean frame,
// proving StopAsync's drain leaves the socket framing-clean for a
// subsequent StartAsync.
func TestAsyncSoak(t *testing.T) {
	cfg := mockinstrument.DefaultConfig()
	cfg.NumAscans = 5
	cfg.AscanLength = 100
	eng, _ := startMockAndEngine(t, cfg)

	for i := 0; i < 50; i++ {
		require.NoError(t, eng.StartAsync(nil))
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, eng.StopAsync())
	}

	gotFrame := make(chan struct{}, 1)
	require.NoError(t, eng.StartAsync(func(valid bool) {
		if valid {
			select {
			case gotFrame <- struct{}{}:
			default:
			}
		}
	}))
	defer eng.StopAsync()

	select {
	case <-gotFrame:
	case <-time.After(5 * time.Second):
		t.Fatal("no valid frame after 50 rapid start/stop cycles")
	}

	f := eng.LatestFrame()
	require.Len(t, f.SubFrames, cfg.NumAscans)
}

func TestEngine_StaleGenerationSuppressesCallback(t *testing.T) {
	cfg := mockinstrument.DefaultConfig()
	eng, _ := startMockAndEngine(t, cfg)

	callbacks := 0
	require.NoError(t, eng.StartAsync(func(bool) { callbacks++ }))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, eng.StopAsync())

	seenAtStop := callbacks
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, seenAtStop, callbacks, "no further callbacks should fire once StopAsync has returned")
}
