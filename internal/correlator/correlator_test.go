package correlator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeliver_FulfillsPendingRequest(t *testing.T) {
	c := New()
	sink := c.Register("req-1", KindHTTP, time.Second)

	c.Deliver("req-1", Result{Status: 200, Payload: []byte(`{"ok":true}`)})

	select {
	case r := <-sink:
		require.NoError(t, r.Err)
		require.Equal(t, 200, r.Status)
	case <-time.After(time.Second):
		t.Fatal("did not receive result")
	}
	require.Equal(t, 0, c.Pending())
}

func TestDeliver_UnknownIDIsDropped(t *testing.T) {
	c := New()
	sink := c.Register("req-1", KindHTTP, 50*time.Millisecond)

	c.Deliver("does-not-exist", Result{Status: 200})

	select {
	case r := <-sink:
		require.ErrorIs(t, r.Err, ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("expected timeout result")
	}
}

func TestRegister_TimesOutExactlyOnce(t *testing.T) {
	c := New()
	sink := c.Register("req-1", KindWS, 10*time.Millisecond)

	r := <-sink
	require.ErrorIs(t, r.Err, ErrTimeout)

	// A late-arriving response after timeout must be discarded, not
	// double-deliver.
	c.Deliver("req-1", Result{Status: 200})
	require.Equal(t, 0, c.Pending())
}

func TestDeliver_DoubleDeliveryAffectsOnlyOneCaller(t *testing.T) {
	c := New()
	sink := c.Register("req-1", KindHTTP, time.Second)

	c.Deliver("req-1", Result{Status: 200})
	c.Deliver("req-1", Result{Status: 500}) // dropped: entry already gone

	r := <-sink
	require.Equal(t, 200, r.Status)
}
