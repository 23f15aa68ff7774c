package procurement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRequestTransitionTable(t *testing.T) {
	cases := []struct {
		from    RequestStatus
		to      RequestStatus
		allowed bool
	}{
		{RequestPending, RequestApproved, true},
		{RequestPending, RequestRejected, true},
		{RequestPending, RequestInQuotation, true},
		{RequestPending, RequestPurchased, false},
		{RequestApproved, RequestInQuotation, true},
		{RequestApproved, RequestPending, false},
		{RequestInQuotation, RequestQuoted, true},
		{RequestQuoted, RequestVendorApproved, true},
		{RequestVendorApproved, RequestPurchased, true},
		{RequestPurchased, RequestInvoiceReceived, true},
		{RequestPurchased, RequestCancelled, false},
		{RequestInvoiceReceived, RequestPaymentReleased, true},
		{RequestPaymentReleased, RequestPaid, true},
		{RequestPaid, RequestCancelled, false},
		{RequestRejected, RequestApproved, false},
		{RequestCancelled, RequestPending, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s → %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, RequestRejected.Terminal())
	require.True(t, RequestCancelled.Terminal())
	require.True(t, RequestPaid.Terminal())
	require.False(t, RequestPending.Terminal())
	require.False(t, RequestPaymentReleased.Terminal())
}

func TestItemTotalUsesFixedPointMath(t *testing.T) {
	item := QuotationItem{UnitValue: decimal.RequireFromString("0.10"), Quantity: 3}
	require.True(t, item.Total().Equal(decimal.RequireFromString("0.30")))
}
