package purchasing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusFromLegacy(t *testing.T) {
	cases := []struct {
		legacy   string
		enhanced string
		want     Status
		wantErr  bool
	}{
		{legacy: "", want: StatusDraft},
		{legacy: "draft", want: StatusDraft},
		{legacy: "pending", want: StatusPendingApproval},
		{legacy: "approved", want: StatusApproved},
		{legacy: "sent", want: StatusSentToSupplier},
		{legacy: "partial", want: StatusPartiallyReceived},
		{legacy: "received", want: StatusFullyReceived},
		{legacy: "cancelled", want: StatusCancelled},
		{legacy: "closed", want: StatusClosed},
		{legacy: "what", wantErr: true},
		// The enhanced column wins over any legacy value when valid.
		{legacy: "sent", enhanced: "partially_received", want: StatusPartiallyReceived},
		{legacy: "draft", enhanced: "fully_received", want: StatusFullyReceived},
		{legacy: "approved", enhanced: "bogus", wantErr: true},
	}
	for _, tc := range cases {
		got, err := StatusFromLegacy(tc.legacy, tc.enhanced)
		if tc.wantErr {
			require.Error(t, err, "legacy=%q enhanced=%q", tc.legacy, tc.enhanced)
			continue
		}
		require.NoError(t, err, "legacy=%q enhanced=%q", tc.legacy, tc.enhanced)
		require.Equal(t, tc.want, got, "legacy=%q enhanced=%q", tc.legacy, tc.enhanced)
	}
}

func TestStatusPredicates(t *testing.T) {
	require.True(t, StatusApproved.Receivable())
	require.True(t, StatusSentToSupplier.Receivable())
	require.True(t, StatusPartiallyReceived.Receivable())
	require.False(t, StatusDraft.Receivable())
	require.False(t, StatusFullyReceived.Receivable())

	require.True(t, StatusCancelled.Terminal())
	require.True(t, StatusClosed.Terminal())
	require.False(t, StatusPartiallyReceived.Terminal())

	require.False(t, Status("wip").Valid())
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusPendingApproval},
		{StatusPendingApproval, StatusApproved},
		{StatusApproved, StatusSentToSupplier},
		{StatusApproved, StatusPartiallyReceived},
		{StatusApproved, StatusFullyReceived},
		{StatusSentToSupplier, StatusFullyReceived},
		// Repeated partial deliveries stay in the same status.
		{StatusPartiallyReceived, StatusPartiallyReceived},
		{StatusPartiallyReceived, StatusFullyReceived},
		{StatusFullyReceived, StatusClosed},
		{StatusDraft, StatusCancelled},
	}
	for _, tc := range allowed {
		require.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to Status }{
		{StatusDraft, StatusApproved},
		{StatusApproved, StatusDraft},
		{StatusFullyReceived, StatusPartiallyReceived},
		{StatusCancelled, StatusDraft},
		{StatusClosed, StatusDraft},
	}
	for _, tc := range denied {
		require.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPurchaseOrderReceiptProgress(t *testing.T) {
	po := PurchaseOrder{Items: []PurchaseOrderItem{
		{ProductID: 1, OrderedQty: 100, ReceivedQty: 100},
		{ProductID: 2, OrderedQty: 50, ReceivedQty: 20},
	}}

	require.False(t, po.IsFullyReceived())
	require.True(t, po.IsPartiallyReceived())
	require.Equal(t, 120.0, po.TotalReceived())
	require.Equal(t, 30.0, po.TotalPending())

	po.Items[1].ReceivedQty = 50
	require.True(t, po.IsFullyReceived())
	require.False(t, po.IsPartiallyReceived())
}
