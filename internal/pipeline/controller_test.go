package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/gridpay-terminal/internal/eventlog"
	"github.com/markjakearzadon/gridpay-terminal/internal/models"
)

const banner = 50 * time.Millisecond

type recorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *recorder) observe(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

// states collapses consecutive duplicates so banner flag changes don't show up
// as extra transitions.
func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, st := range r.statuses {
		if len(out) == 0 || out[len(out)-1] != st.State {
			out = append(out, st.State)
		}
	}
	return out
}

func (r *recorder) count(s State) int {
	n := 0
	for _, st := range r.states() {
		if st == s {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl      *Controller
	reader    *fakeReader
	backend   *fakeBackend
	rec       *recorder
	refreshed chan *models.Transaction
}

func newHarness(t *testing.T, reader *fakeReader, backend *fakeBackend) *harness {
	t.Helper()
	h := &harness{
		reader:    reader,
		backend:   backend,
		rec:       &recorder{},
		refreshed: make(chan *models.Transaction, 1),
	}
	h.ctrl = NewController(NewSession("acct_1", "gbp"), reader, backend,
		WithBannerDuration(banner),
		WithStateObserver(h.rec.observe),
		WithRefresh(func(tx *models.Transaction) { h.refreshed <- tx }),
	)
	return h
}

func request(t *testing.T, amount, email string) models.PaymentRequest {
	t.Helper()
	req, err := NewPaymentRequest(amount, "gbp", "acct_1", email)
	require.NoError(t, err)
	return req
}

func wait(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func groupNames(l *eventlog.Log) []string {
	return l.Names()
}

func events(t *testing.T, l *eventlog.Log, group string) []eventlog.Event {
	t.Helper()
	g, ok := l.Group(group)
	require.True(t, ok, "group %q missing", group)
	return g.Events
}

func names(evs []eventlog.Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name
	}
	return out
}

func TestNewPaymentRequest_Fee(t *testing.T) {
	req := request(t, "5.00", "")
	assert.Equal(t, int64(30), req.ApplicationFeeAmount)
	assert.Equal(t, "acct_1", req.ConnectedAccountID)

	_, err := NewPaymentRequest("0.50", "gbp", "acct_1", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NewPaymentRequest("abc", "gbp", "acct_1", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NewPaymentRequest("5.00", "gbp", " ", "")
	assert.ErrorIs(t, err, ErrValidation)

	for _, amount := range []string{"100000000000000000.00", "92233720368547758.08"} {
		_, err = NewPaymentRequest(amount, "gbp", "acct_1", "")
		assert.ErrorIs(t, err, ErrValidation, amount)
	}
	big := models.PaymentRequest{Amount: decimalOf(t, "100000000000000000.00"), Currency: "gbp", ConnectedAccountID: "acct_1"}
	assert.ErrorIs(t, newHarness(t, newFakeReader(), &fakeBackend{}).ctrl.Submit(context.Background(), big), ErrValidation)
}

func TestSubmit_BelowMinimumMakesNoCalls(t *testing.T) {
	for _, amount := range []string{"0.50", "0.99", "0"} {
		h := newHarness(t, newFakeReader(), &fakeBackend{})
		req := models.PaymentRequest{Amount: decimalOf(t, amount), Currency: "gbp", ConnectedAccountID: "acct_1"}

		err := h.ctrl.Submit(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation, amount)
		assert.Zero(t, h.reader.calls.Load())
		assert.Empty(t, h.ctrl.Log().Snapshot())
		assert.Equal(t, StateIdle, h.ctrl.Status().State)
		assert.False(t, h.ctrl.Status().Disabled)
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	h := newHarness(t, newFakeReader(), &fakeBackend{})

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "a@b.c")))
	wait(t, h.ctrl)

	assert.Equal(t, []State{StateCreating, StateCollecting, StateProcessing, StateCapturing, StateFinalizing, StateIdle}, h.rec.states())
	assert.Equal(t, []string{GroupCreate, GroupCollect, GroupProcess, GroupCapture}, groupNames(h.ctrl.Log()))

	created := events(t, h.ctrl.Log(), GroupCreate)
	assert.Equal(t, []string{"Create", "Created"}, names(created))
	assert.Equal(t, "pi_1", created[1].Metadata["paymentIntentId"])

	processed := events(t, h.ctrl.Log(), GroupProcess)
	assert.Equal(t, "ch_1", processed[1].Metadata["chargeId"])

	captured := events(t, h.ctrl.Log(), GroupCapture)
	assert.Equal(t, []string{"Capture", "Captured"}, names(captured))
	assert.Equal(t, "terminal.paymentIntentId: pi_1", captured[1].Description)

	params := h.reader.lastParams
	assert.Equal(t, int64(500), params.Amount)
	assert.Equal(t, int64(30), params.ApplicationFeeAmount)
	assert.Equal(t, []string{"card_present"}, params.PaymentMethodTypes)
	assert.Equal(t, "off_session", params.SetupFutureUsage)
	assert.Equal(t, "acct_1", params.OnBehalfOf)
	assert.Equal(t, "acct_1", params.TransferDataDestination)

	assert.Equal(t, []string{"pi_1|a@b.c"}, h.backend.captures)
	require.Len(t, h.backend.finalized, 1)
	assert.Equal(t, "5.00", h.backend.finalized[0].Amount.StringFixed(2))
	assert.Equal(t, "acct_1", h.backend.finalized[0].Account)

	select {
	case tx := <-h.refreshed:
		assert.Equal(t, int64(500), tx.Amount)
	default:
		t.Fatal("refresh was not signalled")
	}

	assert.Equal(t, "ch_1", h.ctrl.Session().LastSuccessfulChargeID())
	_, ok := h.ctrl.Request()
	assert.False(t, ok, "request should be forgotten after finalize")

	st := h.ctrl.Status()
	assert.True(t, st.Complete)
	assert.False(t, st.Disabled)
	assert.Eventually(t, func() bool { return !h.ctrl.Status().Complete }, time.Second, 5*time.Millisecond)
}

func TestSubmit_BusyWhileRunning(t *testing.T) {
	r := newFakeReader()
	r.blockCollect = true
	h := newHarness(t, r, &fakeBackend{})

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	require.Eventually(t, func() bool { return h.ctrl.Status().State == StateCollecting }, time.Second, time.Millisecond)

	assert.ErrorIs(t, h.ctrl.Submit(context.Background(), request(t, "7.00", "")), ErrBusy)

	require.NoError(t, h.ctrl.Cancel(context.Background()))
	wait(t, h.ctrl)
}

func TestCancel_WhileCollecting(t *testing.T) {
	r := newFakeReader()
	r.blockCollect = true
	h := newHarness(t, r, &fakeBackend{})

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	require.Eventually(t, func() bool {
		g, ok := h.ctrl.Log().Group(GroupCollect)
		return ok && len(g.Events) > 0
	}, time.Second, time.Millisecond)

	collect := events(t, h.ctrl.Log(), GroupCollect)[0]
	assert.Equal(t, "Collect", collect.Name)
	require.True(t, collect.Cancelable())
	collect.Cancel()
	wait(t, h.ctrl)

	st := h.ctrl.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.HasError)
	assert.False(t, st.Disabled)
	assert.Zero(t, h.rec.count(StateError))

	_, ok := h.ctrl.Log().Group(GroupProcess)
	assert.False(t, ok)
	_, ok = h.ctrl.Log().Group(GroupCapture)
	assert.False(t, ok)
	assert.Zero(t, h.backend.captureCount())
	assert.Equal(t, []string{"Collect"}, names(events(t, h.ctrl.Log(), GroupCollect)))
}

func TestCancel_StaleHookDoesNotCancelLaterRun(t *testing.T) {
	r := newFakeReader()
	h := newHarness(t, r, &fakeBackend{})
	var stale func()
	r.onCollect = func() {
		if stale != nil {
			return
		}
		g, ok := h.ctrl.Log().Group(GroupCollect)
		if ok && len(g.Events) > 0 {
			stale = g.Events[0].Cancel
		}
	}

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)
	require.NotNil(t, stale)
	assert.False(t, events(t, h.ctrl.Log(), GroupCollect)[0].Cancelable())

	r.blockCollect = true
	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "6.00", "")))
	require.Eventually(t, func() bool {
		g, ok := h.ctrl.Log().Group(GroupCollect)
		return ok && len(g.Events) > 0 && h.ctrl.Status().State == StateCollecting
	}, time.Second, time.Millisecond)

	stale()
	assert.Equal(t, StateCollecting, h.ctrl.Status().State)
	assert.True(t, h.ctrl.Status().Disabled)
	assert.Zero(t, r.cancels.Load())
	_, ok := h.ctrl.Log().Group(GroupCollect)
	assert.True(t, ok)

	require.NoError(t, h.ctrl.Cancel(context.Background()))
	wait(t, h.ctrl)
	assert.Equal(t, StateIdle, h.ctrl.Status().State)
}

func TestCancel_ReaderToldBeforeSubmissionReopens(t *testing.T) {
	r := newFakeReader()
	r.blockCollect = true
	var mu sync.Mutex
	var cancelsAtIdle []int32
	h := newHarness(t, r, &fakeBackend{})
	h.ctrl.observer = func(st Status) {
		h.rec.observe(st)
		if st.State == StateIdle && !st.Disabled {
			mu.Lock()
			cancelsAtIdle = append(cancelsAtIdle, r.cancels.Load())
			mu.Unlock()
		}
	}

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	require.Eventually(t, func() bool { return h.ctrl.Status().State == StateCollecting }, time.Second, time.Millisecond)
	require.NoError(t, h.ctrl.Cancel(context.Background()))
	assert.ErrorIs(t, h.ctrl.Cancel(context.Background()), ErrNotCollecting)

	// The next run's card wait must survive the earlier cancel.
	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "6.00", "")))
	require.Eventually(t, func() bool { return h.ctrl.Status().State == StateCollecting }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateCollecting, h.ctrl.Status().State)
	assert.Equal(t, int32(1), r.cancels.Load())

	require.NoError(t, h.ctrl.Cancel(context.Background()))
	wait(t, h.ctrl)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, cancelsAtIdle)
	assert.Equal(t, int32(1), cancelsAtIdle[0])
}

func TestNewController_DefaultBanner(t *testing.T) {
	assert.Equal(t, 5*time.Second, DefaultBannerDuration)
	c := NewController(NewSession("acct_1", "gbp"), newFakeReader(), &fakeBackend{})
	assert.Equal(t, DefaultBannerDuration, c.banner)
}

func TestCancel_OnlyWhileCollecting(t *testing.T) {
	h := newHarness(t, newFakeReader(), &fakeBackend{})
	assert.ErrorIs(t, h.ctrl.Cancel(context.Background()), ErrNotCollecting)

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)
	assert.ErrorIs(t, h.ctrl.Cancel(context.Background()), ErrNotCollecting)
}

func TestCapture_DeclinedShowsOneErrorWindow(t *testing.T) {
	b := &fakeBackend{captureErr: &models.APIError{Code: "card_declined", Message: "Your card was declined."}}
	h := newHarness(t, newFakeReader(), b)

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)

	st := h.ctrl.Status()
	require.Equal(t, StateError, st.State)
	assert.True(t, st.HasError)
	assert.False(t, st.Disabled, "submission is re-enabled while the banner shows")
	assert.ErrorIs(t, st.Err, ErrCapture)

	captureEvents := events(t, h.ctrl.Log(), GroupCapture)
	assert.Equal(t, []string{"Capture", "Failed"}, names(captureEvents))
	assert.Equal(t, "card_declined", captureEvents[1].Metadata["errorCode"])
	assert.Equal(t, "Your card was declined.", captureEvents[1].Metadata["errorMessage"])

	assert.Eventually(t, func() bool { return h.ctrl.Status().State == StateIdle }, time.Second, 5*time.Millisecond)
	assert.False(t, h.ctrl.Status().HasError)
	assert.Equal(t, 1, h.rec.count(StateError))
	assert.Empty(t, b.finalized)
}

func TestProcess_ErrorShowsBannerThenIdle(t *testing.T) {
	r := newFakeReader()
	r.processFn = func(string) (*models.PaymentIntent, error) {
		return nil, &models.APIError{Code: "card_declined", Message: "declined"}
	}
	h := newHarness(t, r, &fakeBackend{})

	start := time.Now()
	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)
	require.Equal(t, StateError, h.ctrl.Status().State)
	assert.ErrorIs(t, h.ctrl.Status().Err, ErrProcessing)

	assert.Eventually(t, func() bool { return h.ctrl.Status().State == StateIdle }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), banner)
	assert.Equal(t, 1, h.rec.count(StateError))
	_, ok := h.ctrl.Log().Group(GroupCapture)
	assert.False(t, ok)
}

func TestProcess_SucceededSkipsCapture(t *testing.T) {
	r := newFakeReader()
	r.processFn = func(id string) (*models.PaymentIntent, error) {
		return &models.PaymentIntent{
			ID:      id,
			Status:  models.IntentSucceeded,
			Charges: []models.Charge{{ID: "ch_9", Captured: true}},
		}, nil
	}
	b := &fakeBackend{}
	h := newHarness(t, r, b)

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)

	assert.Equal(t, []State{StateCreating, StateCollecting, StateProcessing, StateIdle}, h.rec.states())
	assert.Equal(t, []string{GroupCreate, GroupCollect, GroupProcess}, groupNames(h.ctrl.Log()))
	assert.Zero(t, b.captureCount())
	assert.Empty(t, b.finalized)
	assert.True(t, h.ctrl.Status().Complete)
	assert.Equal(t, "ch_9", h.ctrl.Session().LastSuccessfulChargeID())
}

func TestProcess_MissingChargeIsProcessingError(t *testing.T) {
	r := newFakeReader()
	r.processFn = func(id string) (*models.PaymentIntent, error) {
		return &models.PaymentIntent{ID: id, Status: models.IntentRequiresCapture}, nil
	}
	b := &fakeBackend{}
	h := newHarness(t, r, b)

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)

	assert.ErrorIs(t, h.ctrl.Status().Err, ErrMissingCharge)
	last := events(t, h.ctrl.Log(), GroupProcess)
	assert.Equal(t, "Failed", last[len(last)-1].Name)
	assert.Equal(t, CodeMissingCharge, last[len(last)-1].Metadata["errorCode"])
	assert.Zero(t, b.captureCount())
}

func TestCreate_MissingIntentID(t *testing.T) {
	r := newFakeReader()
	r.createFn = func(models.IntentParams) (*models.PaymentIntent, error) {
		return &models.PaymentIntent{}, nil
	}
	h := newHarness(t, r, &fakeBackend{})

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)

	st := h.ctrl.Status()
	assert.Equal(t, StateError, st.State)
	assert.ErrorIs(t, st.Err, ErrMissingIntentID)

	evs := events(t, h.ctrl.Log(), GroupCreate)
	assert.Equal(t, []string{"Create", "Failed"}, names(evs))
	assert.Equal(t, "no_code", evs[1].Metadata["errorCode"])
	assert.Equal(t, "No payment id returned", evs[1].Metadata["errorMessage"])
	assert.Equal(t, []string{GroupCreate}, groupNames(h.ctrl.Log()))
}

func TestCollect_ErrorEntersErrorState(t *testing.T) {
	r := newFakeReader()
	r.collectErr = &models.APIError{Code: "card_read_timed_out", Message: "timed out"}
	h := newHarness(t, r, &fakeBackend{})

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)

	assert.ErrorIs(t, h.ctrl.Status().Err, ErrCollection)
	assert.Equal(t, []string{"Collect", "Failed"}, names(events(t, h.ctrl.Log(), GroupCollect)))
}

func TestCollect_ReaderPromptsKeepOrder(t *testing.T) {
	r := newFakeReader()
	r.prompts = true
	h := newHarness(t, r, &fakeBackend{})

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)

	evs := events(t, h.ctrl.Log(), GroupCollect)
	assert.Equal(t, []string{"Collect", "insertCard / tapCard", "Retry card", "Collected"}, names(evs))
	assert.Equal(t, "terminal.didRequestReaderInput", evs[1].Description)
	assert.False(t, evs[0].Cancelable(), "hooks are dropped once the card wait ends")
	assert.False(t, evs[1].Cancelable())
	assert.Equal(t, "terminal.didRequestReaderDisplayMessage", evs[2].Description)
	assert.False(t, evs[2].Cancelable())
}

func TestFinalize_FailureIsNotSurfaced(t *testing.T) {
	b := &fakeBackend{finalizeErr: assert.AnError}
	h := newHarness(t, newFakeReader(), b)

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)

	st := h.ctrl.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.HasError)
	assert.True(t, st.Complete)
	assert.Zero(t, h.rec.count(StateError))
	assert.Len(t, h.refreshed, 0)
}

func TestSubmit_ResetsLogAndInvalidatesBanner(t *testing.T) {
	r := newFakeReader()
	declined := true
	var mu sync.Mutex
	r.processFn = func(id string) (*models.PaymentIntent, error) {
		mu.Lock()
		defer mu.Unlock()
		if declined {
			return nil, &models.APIError{Code: "card_declined", Message: "declined"}
		}
		return &models.PaymentIntent{ID: id, Status: models.IntentRequiresCapture, Charges: []models.Charge{{ID: "ch_2"}}}, nil
	}
	h := newHarness(t, r, &fakeBackend{})

	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "5.00", "")))
	wait(t, h.ctrl)
	require.Equal(t, StateError, h.ctrl.Status().State)

	mu.Lock()
	declined = false
	mu.Unlock()
	require.NoError(t, h.ctrl.Submit(context.Background(), request(t, "6.00", "")))
	wait(t, h.ctrl)

	processed := events(t, h.ctrl.Log(), GroupProcess)
	assert.Equal(t, []string{"Process", "Processed"}, names(processed))

	// The first run's error banner must not fire against the second run.
	time.Sleep(2 * banner)
	st := h.ctrl.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.HasError)
	assert.Equal(t, 1, h.rec.count(StateError))
}
