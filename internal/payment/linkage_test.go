package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approved(auth string) *Result {
	return NewResult(true, "Approved", nil, ResultOptions{Authorization: auth})
}

func declined() *Result {
	return NewResult(false, "Declined", nil, ResultOptions{ErrorCode: CardDeclined})
}

func TestState_Allows(t *testing.T) {
	testCases := []struct {
		state State
		op    Operation
		want  bool
	}{
		{StateNew, OpAuthorize, true},
		{StateNew, OpCapture, false},
		{StateNew, OpVoid, false},
		{StateAuthorized, OpCapture, true},
		{StateAuthorized, OpVoid, true},
		{StateAuthorized, OpRefund, false},
		{StateCaptured, OpRefund, true},
		{StateCaptured, OpVoid, true},
		{StateVoided, OpCapture, false},
		{StateVoided, OpRefund, false},
		{StateStored, OpPurchase, true},
		{StateStored, OpUnstore, true},
		{StateUnstored, OpPurchase, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.state)+"->"+string(tc.op), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.state.Allows(tc.op))
		})
	}
}

func TestTransaction_AuthorizeCaptureRefund(t *testing.T) {
	// given
	tx := NewTransaction("test")

	// when
	tx.Record(OpAuthorize, 100, approved("auth-1"))
	tx.Record(OpCapture, 99, approved("cap-1"))
	tx.Record(OpRefund, 50, approved("ref-1"))

	// then
	assert.Equal(t, StateRefunded, tx.State())
	assert.Equal(t, "auth-1", tx.RootAuthorization())
	assert.Equal(t, "ref-1", tx.Authorization())
	assert.Equal(t, int64(1), tx.Capturable())
	assert.Equal(t, int64(49), tx.Refundable())
	assert.Len(t, tx.History(), 3)
}

func TestTransaction_FailureLeavesState(t *testing.T) {
	tx := NewTransaction("test")
	tx.Record(OpAuthorize, 100, approved("auth-1"))

	tx.Record(OpCapture, 100, declined())

	assert.Equal(t, StateAuthorized, tx.State())
	assert.Equal(t, "auth-1", tx.Authorization())
	assert.Equal(t, int64(100), tx.Capturable())
	require.Len(t, tx.History(), 2)
	assert.False(t, tx.History()[1].Success)
}

func TestTransaction_DoesNotClamp(t *testing.T) {
	tx := NewTransaction("test")
	tx.Record(OpPurchase, 100, approved("p-1"))

	tx.Record(OpRefund, 150, approved("r-1"))

	assert.Equal(t, int64(-50), tx.Refundable())
}

func TestTransaction_Check(t *testing.T) {
	tx := NewTransaction("test")

	assert.ErrorIs(t, tx.Check(OpCapture), ErrIllegalTransition)

	tx.Record(OpAuthorize, 100, approved("a"))
	assert.NoError(t, tx.Check(OpCapture))
	assert.True(t, tx.Allows(OpVoid))

	tx.Record(OpVoid, 0, approved("a"))
	assert.ErrorIs(t, tx.Check(OpCapture), ErrIllegalTransition)
}

func TestTransaction_KeepsFirstNetworkTransactionID(t *testing.T) {
	tx := NewTransaction("test")
	tx.Record(OpAuthorize, 100, NewResult(true, "ok", nil, ResultOptions{Authorization: "a", NetworkTransactionID: "ntid-1"}))
	tx.Record(OpCapture, 100, NewResult(true, "ok", nil, ResultOptions{Authorization: "a", NetworkTransactionID: "ntid-2"}))

	assert.Equal(t, "ntid-1", tx.NetworkTransactionID())
}

func TestCapabilities_Supports(t *testing.T) {
	caps := Capabilities{Store: true, Methods: []MethodKind{KindCard}}

	assert.True(t, caps.Supports(OpPurchase))
	assert.True(t, caps.Supports(OpStore))
	assert.False(t, caps.Supports(OpCredit))
	assert.True(t, caps.Accepts(KindCard))
	assert.False(t, caps.Accepts(KindBankAccount))
}
