package live

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"meridian/internal/domain"
	"meridian/internal/longshort"
	"meridian/pkg/meridian"
)

func TestStatusModelEvents(t *testing.T) {
	m := NewStatusModel()
	at := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	id, ch := m.Subscribe(8)
	defer m.Unsubscribe(id)

	m.OnStatus("Checking market status...")
	m.OnPositions([]domain.Position{{Symbol: "AAPL", Side: domain.PositionSideShort, Qty: 4, MarketValue: -400}})
	m.OnCycle(&longshort.CycleReport{
		Started: at,
		Phases:  []longshort.Phase{longshort.PhaseRank, longshort.PhaseDone},
		Ranking: longshort.Ranking{Long: []string{"NVDA"}, Short: []string{"AAPL"}},
		Equity:  100000,
		Batch: []domain.OrderResult{
			{Status: domain.ResultSubmitted},
			{Status: domain.ResultRejected},
			{Status: domain.ResultNoop},
		},
		SizingErrors: []error{&domain.SizingError{Side: domain.PositionSideShort, Reason: "price sum of 1 symbols is zero"}},
	})

	kinds := []string{meridian.EventStatus, meridian.EventPositions, meridian.EventCycle}
	var last meridian.StatusEvent
	for _, want := range kinds {
		last = <-ch
		assert.Equal(t, want, last.Kind)
		assert.Equal(t, at, last.At)
	}
	assert.Equal(t, "Checking market status...", last.Status)
	require.Len(t, last.Positions, 1)
	assert.Equal(t, "short", last.Positions[0].Side)
	require.NotNil(t, last.LastCycle)
	assert.Equal(t, 1, last.LastCycle.Orders)
	assert.Equal(t, 1, last.LastCycle.Rejected)
	assert.Equal(t, []string{"RANK", "DONE"}, last.LastCycle.Phases)
	assert.Len(t, last.LastCycle.SizingErrors, 1)

	snap := m.Snapshot()
	assert.Equal(t, meridian.EventSnapshot, snap.Kind)
	assert.Equal(t, last.LastCycle, snap.LastCycle)
}

func TestStatusModelSlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewStatusModel()
	id, ch := m.Subscribe(1)
	for i := 0; i < 10; i++ {
		m.OnStatus("tick")
	}
	assert.Len(t, ch, 1)
	m.Unsubscribe(id)
	_, open := <-ch
	if open {
		// One buffered event, then closed.
		_, open = <-ch
	}
	assert.False(t, open)
}

func TestStatusStreamMirror(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	remote := NewStatusModel()
	remote.OnStatus("Market is closed. Opens in 2 hours and 0 minutes")
	NewServer(remote, nil).RegisterGRPC(gs)
	go gs.Serve(lis)
	defer gs.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	local := NewStatusModel()
	var got []meridian.StatusEvent
	err = meridian.NewGRPCClient(conn).WatchStatus(ctx, func(ev meridian.StatusEvent) error {
		local.Apply(ev)
		got = append(got, ev)
		if len(got) == 1 {
			remote.OnPositions([]domain.Position{{Symbol: "MSFT", Side: domain.PositionSideLong, Qty: 3}})
			return nil
		}
		return meridian.ErrStopWatching
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, meridian.EventSnapshot, got[0].Kind)
	assert.Equal(t, "Market is closed. Opens in 2 hours and 0 minutes", got[0].Status)
	assert.Equal(t, meridian.EventPositions, got[1].Kind)

	mirrored := local.Snapshot()
	assert.Equal(t, got[0].Status, mirrored.Status)
	require.Len(t, mirrored.Positions, 1)
	assert.Equal(t, "MSFT", mirrored.Positions[0].Symbol)
}
