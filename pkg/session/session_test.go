package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/cardkit/pkg/apdu"
	"github.com/gregLibert/cardkit/pkg/cardkiterr"
	"github.com/gregLibert/cardkit/pkg/event"
	"github.com/gregLibert/cardkit/pkg/transport"
	"github.com/gregLibert/cardkit/pkg/transport/faketransport"
)

func selectCommand(t *testing.T) *apdu.Command {
	t.Helper()
	cls, err := apdu.NewClass(0x00)
	require.NoError(t, err)
	ins, err := apdu.NewInstruction(apdu.InsSelect)
	require.NoError(t, err)
	return apdu.NewCommand(cls, ins, 0x04, 0x00, []byte{0xA0, 0x00}, 0)
}

func newTestSession(t *testing.T, transmit faketransport.TransmitFunc) (*CardSession, *faketransport.Transport, *event.Bus) {
	t.Helper()
	ft := faketransport.New()
	ft.AddDevice(transport.DeviceInfo{ID: "dev-0"}, transport.Capabilities{SupportsApdu: true})
	h, _, err := ft.Open(context.Background(), "dev-0")
	require.NoError(t, err)
	ft.SetCardPresent("dev-0", []byte{0x3B, 0x00}, transmit)
	card, err := ft.Connect(context.Background(), h)
	require.NoError(t, err)

	bus := event.NewBus()
	sess := New(Deps{Transport: ft, Card: card, Bus: bus, EmitterHandle: "dev-0"})
	return sess, ft, bus
}

func TestCardSession_New_EmitsStarted(t *testing.T) {
	var captured []event.Event
	ft := faketransport.New()
	ft.AddDevice(transport.DeviceInfo{ID: "dev-0"}, transport.Capabilities{})
	h, _, err := ft.Open(context.Background(), "dev-0")
	require.NoError(t, err)
	ft.SetCardPresent("dev-0", nil, nil)
	card, err := ft.Connect(context.Background(), h)
	require.NoError(t, err)

	bus := event.NewBus()
	bus.Subscribe(event.CardSessionStarted, func(e event.Event) { captured = append(captured, e) })

	New(Deps{Transport: ft, Card: card, Bus: bus, EmitterHandle: "dev-0"})

	require.Len(t, captured, 1)
	assert.Equal(t, "dev-0", captured[0].Handle)
}

func TestCardSession_Transmit_Success(t *testing.T) {
	sess, _, bus := newTestSession(t, func(cmd []byte) ([]byte, error) {
		return []byte{0x90, 0x00}, nil
	})

	var sent []event.Event
	bus.Subscribe(event.ApduSent, func(e event.Event) { sent = append(sent, e) })

	resp, err := sess.Transmit(context.Background(), selectCommand(t))
	require.NoError(t, err)
	assert.Equal(t, apdu.SWNoError, resp.Status)
	assert.Len(t, sent, 1)
	assert.Equal(t, Open, sess.State())
}

func TestCardSession_Transmit_GetResponseChaining(t *testing.T) {
	calls := 0
	sess, _, _ := newTestSession(t, func(cmd []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte{0x61, 0x02}, nil
		}
		return []byte{0xAA, 0xBB, 0x90, 0x00}, nil
	})

	resp, err := sess.Transmit(context.Background(), selectCommand(t))
	require.NoError(t, err)
	assert.Equal(t, apdu.SWNoError, resp.Status)
	assert.Equal(t, []byte{0xAA, 0xBB}, resp.Data)
	assert.Equal(t, 2, calls)
}

func TestCardSession_Transmit_CardLost(t *testing.T) {
	sess, _, bus := newTestSession(t, func(cmd []byte) ([]byte, error) {
		return nil, cardkiterr.New(cardkiterr.CardNotPresent, "card removed mid-transmit")
	})

	var lost []event.Event
	bus.Subscribe(event.CardLost, func(e event.Event) { lost = append(lost, e) })

	_, err := sess.Transmit(context.Background(), selectCommand(t))
	require.Error(t, err)
	assert.Equal(t, cardkiterr.CardNotPresent, cardkiterr.Of(err))
	assert.Equal(t, Closed, sess.State())
	assert.Len(t, lost, 1)

	// Once closed, every further operation fails NOT_CONNECTED.
	_, err = sess.Transmit(context.Background(), selectCommand(t))
	require.Error(t, err)
	assert.Equal(t, cardkiterr.NotConnected, cardkiterr.Of(err))
}

// TestCardSession_Transmit_ConcurrentCallsDoNotOverlapAtTransport exercises
// the serialization invariant Transmit's s.mu is meant to provide: however
// many goroutines call Transmit at once, the underlying transport must see
// them one at a time, never two in flight together.
func TestCardSession_Transmit_ConcurrentCallsDoNotOverlapAtTransport(t *testing.T) {
	var inFlight int32
	var overlapped int32

	sess, _, _ := newTestSession(t, func(cmd []byte) ([]byte, error) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.StoreInt32(&overlapped, 1)
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return []byte{0x90, 0x00}, nil
	})

	cmd := selectCommand(t)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sess.Transmit(context.Background(), cmd)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "goroutine %d", i)
	}

	assert.Zero(t, atomic.LoadInt32(&overlapped), "transport observed overlapping in-flight Transmit calls")
}

func TestCardSession_GetAtr_FallsBackToRawAtr(t *testing.T) {
	ft := faketransport.New()
	ft.AddDevice(transport.DeviceInfo{ID: "dev-0"}, transport.Capabilities{})
	h, _, err := ft.Open(context.Background(), "dev-0")
	require.NoError(t, err)

	// TS=3B, T0=10 (Y1=0001 -> TA1 present, K=0 historical bytes), TA1=96:
	// no historical bytes, so GetAtr falls back to the raw ATR.
	raw := []byte{0x3B, 0x10, 0x96}
	ft.SetCardPresent("dev-0", raw, nil)
	card, err := ft.Connect(context.Background(), h)
	require.NoError(t, err)

	sess := New(Deps{Transport: ft, Card: card, Bus: event.NewBus(), EmitterHandle: "dev-0"})
	atr, err := sess.GetAtr(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, atr)
}

func TestCardSession_GetAtr_ExtractsHistoricalBytes(t *testing.T) {
	ft := faketransport.New()
	ft.AddDevice(transport.DeviceInfo{ID: "dev-0"}, transport.Capabilities{})
	h, _, err := ft.Open(context.Background(), "dev-0")
	require.NoError(t, err)

	// TS=3B, T0=03 (Y1=0000, K=3 historical bytes), followed by 3 historical bytes.
	atrBytes := []byte{0x3B, 0x03, 0xAA, 0xBB, 0xCC}
	ft.SetCardPresent("dev-0", atrBytes, nil)
	card, err := ft.Connect(context.Background(), h)
	require.NoError(t, err)

	bus := event.NewBus()
	sess := New(Deps{Transport: ft, Card: card, Bus: bus, EmitterHandle: "dev-0"})

	atr, err := sess.GetAtr(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, atr)
}

func TestCardSession_Reset_EmitsResetEvent(t *testing.T) {
	sess, ft, bus := newTestSession(t, func(cmd []byte) ([]byte, error) { return []byte{0x90, 0x00}, nil })

	var resets []event.Event
	bus.Subscribe(event.CardSessionReset, func(e event.Event) { resets = append(resets, e) })

	sess.reconnect = func(ctx context.Context) (transport.Card, error) {
		h, _, err := ft.Open(ctx, "dev-0")
		if err != nil {
			return nil, err
		}
		return ft.Connect(ctx, h)
	}

	err := sess.Reset(context.Background())
	require.NoError(t, err)
	assert.Len(t, resets, 1)
	assert.Equal(t, Open, sess.State())
}

func TestCardSession_Release_IsIdempotent(t *testing.T) {
	sess, _, _ := newTestSession(t, nil)

	require.NoError(t, sess.Release(context.Background()))
	assert.Equal(t, Closed, sess.State())

	require.NoError(t, sess.Release(context.Background()))
	assert.Equal(t, Closed, sess.State())

	_, err := sess.GetAtr(context.Background())
	require.Error(t, err)
	assert.Equal(t, cardkiterr.NotConnected, cardkiterr.Of(err))
}
