package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"lumenclean/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProcessor finalises turns without a backend and can be told to fail,
// panic, block or report a store error for specific raw texts.
type fakeProcessor struct {
	mu      sync.Mutex
	started []string
	delay   func() time.Duration

	failOn     map[string]bool
	panicOn    map[string]bool
	storeErrOn map[string]bool
	blockOn    map[string]bool
}

func (p *fakeProcessor) Process(ctx context.Context, turn *models.Turn, _ models.ConversationSettings) (*models.Turn, error) {
	if err := turn.Transition(models.StateProcessing); err != nil {
		return turn, err
	}
	p.mu.Lock()
	p.started = append(p.started, turn.RawText)
	p.mu.Unlock()

	if p.delay != nil {
		time.Sleep(p.delay())
	}
	if p.panicOn[turn.RawText] {
		panic("boom")
	}
	if p.blockOn[turn.RawText] {
		<-ctx.Done()
		p.markError(turn, ctx.Err())
		return turn, nil
	}
	if p.failOn[turn.RawText] {
		p.markError(turn, errors.New("backend down"))
		return turn, nil
	}

	turn.Confidence = models.ConfidenceHigh
	state := models.StateCompleted
	if turn.Speaker.IsAssistant() {
		turn.Confidence = models.ConfidenceBypass
		state = models.StateSkipped
	}
	_ = turn.Transition(state)

	if p.storeErrOn[turn.RawText] {
		return turn, errors.New("store unavailable")
	}
	return turn, nil
}

func (p *fakeProcessor) Abort(_ context.Context, turn *models.Turn, _ models.ConversationSettings, cause error) (*models.Turn, error) {
	if !turn.IsTerminal() {
		p.markError(turn, cause)
	}
	return turn, nil
}

func (p *fakeProcessor) markError(turn *models.Turn, cause error) {
	turn.Confidence = models.ConfidenceError
	turn.CleanedText = turn.RawText
	turn.ContextDetected = "cleaning failed: " + cause.Error()
	_ = turn.Transition(models.StateCompleted)
}

func (p *fakeProcessor) order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.started...)
}

// recorder is a Publisher that keeps every published turn.
type recorder struct {
	mu     sync.Mutex
	turns  []*models.Turn
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1024)}
}

func (r *recorder) Publish(turn *models.Turn) {
	r.mu.Lock()
	r.turns = append(r.turns, turn)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) byConversation() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string)
	for _, t := range r.turns {
		out[t.ConversationID] = append(out[t.ConversationID], t.RawText)
	}
	return out
}

func (r *recorder) all() []*models.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Turn(nil), r.turns...)
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.notify:
		case <-timeout:
			t.Fatalf("timed out waiting for %d publishes, got %d", n, i)
		}
	}
}

func stop(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
}

func userTurn(conv, text string) *models.Turn {
	return models.NewTurn(conv, models.SpeakerUser, text)
}

func TestPriorityFor(t *testing.T) {
	full := models.DefaultSettings()
	light := models.DefaultSettings()
	light.CleaningLevel = models.LevelLight

	assert.Equal(t, PriorityLow, PriorityFor(models.NewTurn("c", models.SpeakerLumen, "hi"), full))
	assert.Equal(t, PriorityHigh, PriorityFor(userTurn("c", "hi"), full))
	assert.Equal(t, PriorityNormal, PriorityFor(userTurn("c", "hi"), light))

	override := userTurn("c", "hi")
	override.LevelOverride = models.LevelFull
	assert.Equal(t, PriorityHigh, PriorityFor(override, light))
	assert.Equal(t, "high", PriorityHigh.String())
}

func TestStartWorkers_RequiresWorkers(t *testing.T) {
	q := New(&fakeProcessor{})
	assert.ErrorIs(t, q.StartWorkers(0), ErrNoWorkers)
	assert.ErrorIs(t, q.StartWorkers(-1), ErrNoWorkers)

	require.NoError(t, q.StartWorkers(1))
	assert.ErrorIs(t, q.StartWorkers(1), ErrAlreadyStarted)
	stop(t, q)
}

func TestPriority_UserTurnDequeuedBeforeEarlierLumenTurn(t *testing.T) {
	proc := &fakeProcessor{}
	rec := newRecorder()
	q := New(proc, WithPublisher(rec))

	light := models.DefaultSettings()
	light.CleaningLevel = models.LevelLight

	_, err := q.Enqueue(models.NewTurn("a", models.SpeakerLumen, "lumen"), models.DefaultSettings())
	require.NoError(t, err)
	_, err = q.Enqueue(userTurn("c", "light user"), light)
	require.NoError(t, err)
	_, err = q.Enqueue(userTurn("b", "full user"), models.DefaultSettings())
	require.NoError(t, err)

	require.NoError(t, q.StartWorkers(1))
	rec.wait(t, 3)
	stop(t, q)

	assert.Equal(t, []string{"full user", "light user", "lumen"}, proc.order())
}

func TestPriority_DoesNotReorderWithinConversation(t *testing.T) {
	proc := &fakeProcessor{}
	rec := newRecorder()
	q := New(proc, WithPublisher(rec))

	_, err := q.Enqueue(models.NewTurn("conv", models.SpeakerLumen, "lumen"), models.DefaultSettings())
	require.NoError(t, err)
	_, err = q.Enqueue(userTurn("conv", "user"), models.DefaultSettings())
	require.NoError(t, err)
	_, err = q.Enqueue(userTurn("other", "other user"), models.DefaultSettings())
	require.NoError(t, err)

	require.NoError(t, q.StartWorkers(1))
	rec.wait(t, 3)
	stop(t, q)

	// the high-priority user turn waits for the earlier lumen turn of its
	// conversation; the other conversation's user turn is free to jump ahead
	assert.Equal(t, []string{"other user", "lumen", "user"}, proc.order())
	assert.Equal(t, []string{"lumen", "user"}, rec.byConversation()["conv"])
}

func TestOrdering_PerConversationUnderLoad(t *testing.T) {
	proc := &fakeProcessor{delay: func() time.Duration {
		return time.Duration(rand.Intn(3000)) * time.Microsecond
	}}
	rec := newRecorder()
	q := New(proc, WithPublisher(rec))
	require.NoError(t, q.StartWorkers(6))

	const conversations, perConversation = 5, 30
	want := make(map[string][]string)
	for i := 0; i < perConversation; i++ {
		for c := 0; c < conversations; c++ {
			conv := fmt.Sprintf("conv-%d", c)
			text := fmt.Sprintf("%s/%d", conv, i)
			speaker := models.SpeakerUser
			if i%2 == 1 {
				speaker = models.SpeakerLumen
			}
			_, err := q.Enqueue(models.NewTurn(conv, speaker, text), models.DefaultSettings())
			require.NoError(t, err)
			want[conv] = append(want[conv], text)
		}
	}

	rec.wait(t, conversations*perConversation)
	stop(t, q)

	assert.Equal(t, want, rec.byConversation())
	for _, turn := range rec.all() {
		assert.True(t, turn.IsTerminal(), turn.ID)
	}

	m := q.Status("")
	assert.EqualValues(t, conversations*perConversation, m.TotalJobs)
	assert.EqualValues(t, conversations*perConversation, m.ProcessedJobs)
	assert.Zero(t, m.QueueLength)
	assert.Zero(t, m.ActiveWorkers)
	assert.NotNil(t, m.LastProcessed)
}

func TestFailure_CountedExactlyOnce(t *testing.T) {
	proc := &fakeProcessor{failOn: map[string]bool{"bad": true}}
	rec := newRecorder()
	q := New(proc, WithPublisher(rec))
	require.NoError(t, q.StartWorkers(2))

	before := q.Status("").FailedJobs
	for _, text := range []string{"one", "bad", "three"} {
		_, err := q.Enqueue(userTurn("conv", text), models.DefaultSettings())
		require.NoError(t, err)
	}
	rec.wait(t, 3)
	stop(t, q)

	m := q.Status("conv")
	assert.EqualValues(t, before+1, m.FailedJobs)
	assert.EqualValues(t, 3, m.ProcessedJobs)
	assert.EqualValues(t, 1, m.ConversationFailed)

	failed := rec.all()[1]
	assert.Equal(t, models.ConfidenceError, failed.Confidence)
	assert.Equal(t, failed.RawText, failed.CleanedText)
	assert.False(t, failed.CleaningApplied)
}

func TestPanic_RecoveredAndWorkerContinues(t *testing.T) {
	proc := &fakeProcessor{panicOn: map[string]bool{"explode": true}}
	rec := newRecorder()
	q := New(proc, WithPublisher(rec))
	require.NoError(t, q.StartWorkers(1))

	for _, text := range []string{"explode", "after"} {
		_, err := q.Enqueue(userTurn("conv", text), models.DefaultSettings())
		require.NoError(t, err)
	}
	rec.wait(t, 2)
	stop(t, q)

	turns := rec.all()
	require.Len(t, turns, 2)
	assert.Equal(t, models.ConfidenceError, turns[0].Confidence)
	assert.Contains(t, turns[0].ContextDetected, "panic: boom")
	assert.Equal(t, models.StateCompleted, turns[0].State)
	assert.Equal(t, models.ConfidenceHigh, turns[1].Confidence)
	assert.EqualValues(t, 1, q.Status("").FailedJobs)
}

func TestStoreErrors_Counted(t *testing.T) {
	proc := &fakeProcessor{storeErrOn: map[string]bool{"unsaved": true}}
	rec := newRecorder()
	q := New(proc, WithPublisher(rec))
	require.NoError(t, q.StartWorkers(1))

	_, err := q.Enqueue(userTurn("conv", "unsaved"), models.DefaultSettings())
	require.NoError(t, err)
	rec.wait(t, 1)
	stop(t, q)

	m := q.Status("")
	assert.EqualValues(t, 1, m.StoreErrors)
	assert.Zero(t, m.FailedJobs)
	assert.Equal(t, models.StateCompleted, rec.all()[0].State)
}

func TestEnqueue_Backpressure(t *testing.T) {
	q := New(&fakeProcessor{}, WithMaxPending(2))

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(userTurn("conv", fmt.Sprint(i)), models.DefaultSettings())
		require.NoError(t, err)
	}
	assert.ErrorIs(t, q.CanAccept(), ErrQueueFull)
	_, err := q.Enqueue(userTurn("conv", "overflow"), models.DefaultSettings())
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Status("conv").ConversationPending)

	require.NoError(t, q.StartWorkers(1))
	stop(t, q)
	assert.EqualValues(t, 2, q.Status("").ProcessedJobs)
}

func TestStop_DrainsQueuedJobs(t *testing.T) {
	rec := newRecorder()
	q := New(&fakeProcessor{delay: func() time.Duration { return time.Millisecond }}, WithPublisher(rec))

	for i := 0; i < 10; i++ {
		_, err := q.Enqueue(userTurn(fmt.Sprintf("c%d", i%3), fmt.Sprint(i)), models.DefaultSettings())
		require.NoError(t, err)
	}
	require.NoError(t, q.StartWorkers(2))
	stop(t, q)

	assert.Len(t, rec.all(), 10)
	_, err := q.Enqueue(userTurn("c0", "late"), models.DefaultSettings())
	assert.ErrorIs(t, err, ErrQueueStopped)
	assert.ErrorIs(t, q.StartWorkers(1), ErrQueueStopped)
}

func TestStop_DeadlineCancelsInFlight(t *testing.T) {
	rec := newRecorder()
	q := New(&fakeProcessor{blockOn: map[string]bool{"stuck": true}}, WithPublisher(rec))
	require.NoError(t, q.StartWorkers(1))

	_, err := q.Enqueue(userTurn("conv", "stuck"), models.DefaultSettings())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = q.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	turns := rec.all()
	require.Len(t, turns, 1)
	assert.Equal(t, models.ConfidenceError, turns[0].Confidence)
	assert.Contains(t, turns[0].ContextDetected, "context canceled")
}

func TestStop_WithoutWorkers(t *testing.T) {
	q := New(&fakeProcessor{})
	require.NoError(t, q.Stop(context.Background()))
}

func TestRestore_IgnoresBound(t *testing.T) {
	q := New(&fakeProcessor{}, WithMaxPending(1))
	_, err := q.Enqueue(userTurn("conv", "a"), models.DefaultSettings())
	require.NoError(t, err)
	_, err = q.Restore(userTurn("conv", "b"), models.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 2, q.Status("").QueueLength)

	require.NoError(t, q.StartWorkers(1))
	stop(t, q)
}

func TestIdleConversationsArePruned(t *testing.T) {
	proc := &fakeProcessor{failOn: map[string]bool{"bad": true}}
	rec := newRecorder()
	q := New(proc, WithPublisher(rec))
	require.NoError(t, q.StartWorkers(2))

	for i := 0; i < 20; i++ {
		_, err := q.Enqueue(userTurn(fmt.Sprintf("conv-%d", i), "hello"), models.DefaultSettings())
		require.NoError(t, err)
	}
	_, err := q.Enqueue(userTurn("conv-0", "bad"), models.DefaultSettings())
	require.NoError(t, err)
	rec.wait(t, 21)
	stop(t, q)

	q.mu.Lock()
	assert.Empty(t, q.convs)
	q.mu.Unlock()

	m := q.Status("conv-0")
	assert.Zero(t, m.ConversationPending)
	assert.EqualValues(t, 2, m.ConversationProcessed)
	assert.EqualValues(t, 1, m.ConversationFailed)
}

func TestPrunedConversationAcceptsNewTurns(t *testing.T) {
	proc := &fakeProcessor{}
	rec := newRecorder()
	q := New(proc, WithPublisher(rec))
	require.NoError(t, q.StartWorkers(1))

	_, err := q.Enqueue(userTurn("conv", "first"), models.DefaultSettings())
	require.NoError(t, err)
	rec.wait(t, 1)
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		_, ok := q.convs["conv"]
		return !ok
	}, 5*time.Second, 5*time.Millisecond)

	for _, text := range []string{"second", "third"} {
		_, err := q.Enqueue(userTurn("conv", text), models.DefaultSettings())
		require.NoError(t, err)
	}
	rec.wait(t, 2)
	stop(t, q)

	assert.Equal(t, []string{"first", "second", "third"}, rec.byConversation()["conv"])
	assert.EqualValues(t, 3, q.Status("conv").ConversationProcessed)
}
