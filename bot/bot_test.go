package bot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url-digest-bot/backfill"
	"url-digest-bot/chat"
	"url-digest-bot/digest"
	"url-digest-bot/ingest"
	"url-digest-bot/storage"
)

const testGroupID int64 = -100123

// Mock implementations for testing

type sentMessage struct {
	chatID  int64
	text    string
	replyTo int
}

type mockMessageSender struct {
	mu           sync.Mutex
	sentMessages []sentMessage
}

func (m *mockMessageSender) Send(ctx context.Context, chatID int64, text string, replyTo int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(m.sentMessages, sentMessage{chatID, text, replyTo})
	return len(m.sentMessages), nil
}

func (m *mockMessageSender) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sentMessages {
		out = append(out, s.text)
	}
	return out
}

type directExecutor struct {
	store *storage.Store
}

func (e directExecutor) Do(ctx context.Context, fn func(*storage.Store)) error {
	fn(e.store)
	return nil
}

type mockIngester struct {
	mu    sync.Mutex
	added []chat.Message
	err   error
	gate  chan struct{}
}

func (m *mockIngester) Add(ctx context.Context, msg chat.Message) (bool, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	m.added = append(m.added, msg)
	return true, nil
}

type mockBackfiller struct {
	calls  []int64
	result backfill.Result
	err    error
}

func (m *mockBackfiller) Run(ctx context.Context, chatID int64) (backfill.Result, error) {
	m.calls = append(m.calls, chatID)
	return m.result, m.err
}

type digestCall struct {
	chatID  int64
	replyTo int
}

type mockDigestRunner struct {
	calls []digestCall
	count int
	err   error
}

func (m *mockDigestRunner) Run(ctx context.Context, chatID int64, replyTo int) (int, error) {
	m.calls = append(m.calls, digestCall{chatID, replyTo})
	return m.count, m.err
}

type mockSettingsStore struct {
	settings map[string]string
}

func newMockSettingsStore() *mockSettingsStore {
	return &mockSettingsStore{settings: make(map[string]string)}
}

func (m *mockSettingsStore) GetSetting(ctx context.Context, key string) (string, error) {
	if v, ok := m.settings[key]; ok {
		return v, nil
	}
	return "", storage.ErrNotFound
}

func (m *mockSettingsStore) SetSetting(ctx context.Context, key, value string) error {
	m.settings[key] = value
	return nil
}

type testMessage struct {
	at   time.Time
	link string
	text string
}

func (m testMessage) Timestamp() time.Time { return m.at }
func (m testMessage) Link() string         { return m.link }
func (m testMessage) Text() string         { return m.text }

type fixture struct {
	sender     *mockMessageSender
	store      *storage.Store
	ingester   *mockIngester
	backfiller *mockBackfiller
	digests    *mockDigestRunner
	settings   *mockSettingsStore
	bot        *Bot
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		sender:     &mockMessageSender{},
		store:      storage.NewStore(),
		ingester:   &mockIngester{},
		backfiller: &mockBackfiller{},
		digests:    &mockDigestRunner{count: 3},
		settings:   newMockSettingsStore(),
	}
	opts = append([]Option{WithSettings(f.settings)}, opts...)
	f.bot = New(f.sender, directExecutor{f.store}, f.ingester, f.backfiller, f.digests, testGroupID, opts...)
	return f
}

func command(chatID int64, name string) chat.Incoming {
	return chat.Incoming{ChatID: chatID, MessageID: 42, Command: name}
}

func groupMessage(text string) chat.Incoming {
	return chat.Incoming{
		ChatID:    testGroupID,
		MessageID: 7,
		Message:   testMessage{at: time.Now(), link: "https://t.me/c/123/7", text: text},
	}
}

func TestHandleIgnoresMessagesUntilListening(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bot.Handle(ctx, groupMessage("look https://example.com"))
	f.bot.Wait()
	assert.Empty(t, f.ingester.added)

	f.bot.listening.Store(true)
	f.bot.Handle(ctx, groupMessage("look https://example.com"))
	f.bot.Wait()
	assert.Len(t, f.ingester.added, 1)
}

func TestHandleIgnoresOtherChats(t *testing.T) {
	f := newFixture(WithListening(true))

	in := groupMessage("https://example.com")
	in.ChatID = 555
	f.bot.Handle(context.Background(), in)
	f.bot.Wait()

	assert.Empty(t, f.ingester.added)
}

func TestHandleIngestErrorsAreSwallowed(t *testing.T) {
	for _, err := range []error{ingest.ErrNoURL, errors.New("store closed")} {
		f := newFixture(WithListening(true))
		f.ingester.err = err

		f.bot.Handle(context.Background(), groupMessage("hello"))
		f.bot.Wait()

		assert.Empty(t, f.sender.texts())
	}
}

func TestHandleLogsMessagesWithoutURL(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	f := newFixture(WithListening(true))
	f.ingester.err = ingest.ErrNoURL

	f.bot.Handle(context.Background(), groupMessage("just https://"))
	f.bot.Wait()

	assert.Contains(t, buf.String(), "dropping message without url")
	assert.Contains(t, buf.String(), "https://t.me/c/123/7")
}

func TestHandleDoesNotBlockOnIngest(t *testing.T) {
	f := newFixture(WithListening(true))
	f.ingester.gate = make(chan struct{})

	returned := make(chan struct{})
	go func() {
		f.bot.Handle(context.Background(), groupMessage("slow https://example.com"))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked on a pending ingest")
	}

	close(f.ingester.gate)
	f.bot.Wait()
	assert.Len(t, f.ingester.added, 1)
}

func TestHandleStart(t *testing.T) {
	f := newFixture()
	f.backfiller.result = backfill.Result{Seen: 5, Added: 3, Dropped: 2}

	f.bot.Handle(context.Background(), command(testGroupID, "start"))
	f.bot.Wait()

	assert.True(t, f.bot.Listening())
	assert.Equal(t, "true", f.settings.settings[settingListening])
	assert.Equal(t, []int64{testGroupID}, f.backfiller.calls)

	texts := f.sender.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "Started listening for URLs.", texts[0])
	assert.Equal(t, "Finished building storage: 5 messages scanned, 3 stored, 2 dropped.", texts[1])
}

func TestHandleStartAlias(t *testing.T) {
	f := newFixture()

	f.bot.Handle(context.Background(), command(testGroupID, "start_summarize"))
	f.bot.Wait()

	assert.True(t, f.bot.Listening())
}

func TestHandleStartTwice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bot.Handle(ctx, command(testGroupID, "start"))
	f.bot.Wait()
	f.bot.Handle(ctx, command(testGroupID, "start"))
	f.bot.Wait()

	assert.Len(t, f.backfiller.calls, 1)
	texts := f.sender.texts()
	assert.Equal(t, "Already listening for URLs.", texts[len(texts)-1])
}

func TestHandleBuildStorageNoHistory(t *testing.T) {
	f := newFixture()
	f.backfiller.err = chat.ErrNoHistory

	f.bot.Handle(context.Background(), command(testGroupID, "build_storage"))
	f.bot.Wait()

	texts := f.sender.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "No chat history available")
	assert.False(t, f.bot.Listening())
}

func TestHandleBuildStorageFailure(t *testing.T) {
	f := newFixture()
	f.backfiller.result = backfill.Result{Seen: 4}
	f.backfiller.err = errors.New("export unreadable")

	f.bot.Handle(context.Background(), command(testGroupID, "build_storage"))
	f.bot.Wait()

	assert.Equal(t, []string{"Building storage failed after 4 messages."}, f.sender.texts())
}

func TestHandleBuildStorageRepliesToIssuer(t *testing.T) {
	f := newFixture()

	f.bot.Handle(context.Background(), command(999, "build_storage"))
	f.bot.Wait()

	require.Len(t, f.sender.sentMessages, 1)
	assert.Equal(t, int64(999), f.sender.sentMessages[0].chatID)
	assert.Equal(t, 42, f.sender.sentMessages[0].replyTo)
	// Backfill always targets the monitored group
	assert.Equal(t, []int64{testGroupID}, f.backfiller.calls)
}

func TestHandleSummaryPostsToGroup(t *testing.T) {
	f := newFixture()

	f.bot.Handle(context.Background(), command(999, "summary"))

	require.Len(t, f.digests.calls, 1)
	assert.Equal(t, digestCall{chatID: testGroupID, replyTo: 0}, f.digests.calls[0])
	assert.Equal(t, []string{"Digest with 3 URLs posted."}, f.sender.texts())
}

func TestHandleSummaryFromGroupIsSilent(t *testing.T) {
	f := newFixture()

	f.bot.Handle(context.Background(), command(testGroupID, "summarize"))

	assert.Len(t, f.digests.calls, 1)
	assert.Empty(t, f.sender.texts())
}

func TestHandleSummaryEmpty(t *testing.T) {
	f := newFixture()
	f.digests.err = digest.ErrEmpty

	f.bot.Handle(context.Background(), command(testGroupID, "summary"))

	assert.Equal(t, []string{"No URLs to summarize."}, f.sender.texts())
}

func TestHandleSummaryFailure(t *testing.T) {
	f := newFixture()
	f.digests.err = errors.New("telegram down")

	err := f.bot.HandleSummary(context.Background(), command(testGroupID, "summary"))

	assert.Error(t, err)
	assert.Equal(t, []string{"Failed to post digest."}, f.sender.texts())
}

func TestHandleTestRepliesInPlace(t *testing.T) {
	f := newFixture()

	f.bot.Handle(context.Background(), command(999, "test"))

	require.Len(t, f.digests.calls, 1)
	assert.Equal(t, digestCall{chatID: 999, replyTo: 42}, f.digests.calls[0])
}

func TestHandleDiagnose(t *testing.T) {
	f := newFixture(WithListening(true))
	f.store.Add(storage.Entry{
		Date: time.Now().Add(-2 * time.Hour),
		Link: "https://t.me/c/123/1",
		URL:  "https://example.com",
		Type: storage.DefaultType,
	})

	f.bot.Handle(context.Background(), command(testGroupID, "diagnose"))

	texts := f.sender.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Messages: 1")
	assert.Contains(t, texts[0], "URLs: 1")
	assert.Contains(t, texts[0], "Last URL: 2 hours ago")
	assert.Contains(t, texts[0], "Listening: yes")
}

func TestFormatDiagnosis(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	text := FormatDiagnosis(storage.Stats{Messages: 12345, URLs: 1200}, false, true, now)

	assert.Contains(t, text, "Messages: 12,345")
	assert.Contains(t, text, "URLs: 1,200")
	assert.Contains(t, text, "Last URL: never")
	assert.Contains(t, text, "Listening: no")
	assert.Contains(t, text, "Building storage: yes")
}

func TestHandleDedupe(t *testing.T) {
	f := newFixture()
	at := time.Now()
	for i := 0; i < 3; i++ {
		f.store.Add(storage.Entry{Date: at, Link: "https://t.me/c/123/1", URL: "https://example.com"})
	}

	f.bot.Handle(context.Background(), command(testGroupID, "dedupe"))

	assert.Equal(t, []string{"Removed 2 duplicate messages."}, f.sender.texts())
	assert.Equal(t, 1, f.store.Stats().Messages)
}

func TestHandleHelpAndUnknown(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bot.Handle(ctx, command(testGroupID, "help"))
	f.bot.Handle(ctx, command(testGroupID, "weather"))

	texts := f.sender.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "/build_storage")
	assert.Contains(t, texts[0], "/summary")
}

func TestRestoreState(t *testing.T) {
	f := newFixture()
	f.bot.RestoreState(context.Background())
	assert.False(t, f.bot.Listening())

	f.settings.settings[settingListening] = "true"
	f.bot.RestoreState(context.Background())
	assert.True(t, f.bot.Listening())
}

type stoppedExecutor struct{}

func (stoppedExecutor) Do(ctx context.Context, fn func(*storage.Store)) error {
	return errors.New("loop stopped")
}

func TestHandleStoreFailuresReply(t *testing.T) {
	for _, name := range []string{"diagnose", "dedupe"} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.bot.exec = stoppedExecutor{}

			f.bot.Handle(context.Background(), command(testGroupID, name))

			texts := f.sender.texts()
			require.Len(t, texts, 1)
			assert.Contains(t, texts[0], "Failed")
		})
	}
}
