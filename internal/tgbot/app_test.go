package tgbot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-bot/internal/config"
	"referral-bot/internal/i18n"
	"referral-bot/internal/models"
	"referral-bot/internal/pending"
	"referral-bot/internal/referral"
	"referral-bot/internal/store/memory"
)

const operatorID = 1

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type fakeExporter struct {
	sheet  string
	rows   int
	chains []models.Chain
	err    error
}

func (e *fakeExporter) ExportParticipants(_ context.Context, sheet string, ps []models.Participant, chains []models.Chain) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	e.sheet, e.rows, e.chains = sheet, len(ps), chains
	return len(ps), nil
}

type fixture struct {
	app *App
	out *fakeSender
	st  *memory.Store
	svc *referral.Service
	tr  *i18n.Catalog
}

func newFixture(t *testing.T, sh Exporter) *fixture {
	t.Helper()
	st := memory.New()
	log, _ := test.NewNullLogger()
	svc, err := referral.NewService(st, referral.Options{
		WebsiteURL: "https://delegate.example.com/start",
		Operators:  []string{"1"},
		Chains:     []models.Chain{"tia", "fet"},
	}, log)
	require.NoError(t, err)

	cfg := config.Config{
		BotLink:   "https://t.me/ref_bot",
		SheetName: "Participants",
		Chains:    []string{"tia", "fet"},
	}
	out := &fakeSender{}
	tr := i18n.New("en")
	app := newApp(cfg, out, svc, pending.NewMemory(time.Minute), tr, sh, log)
	return &fixture{app: app, out: out, st: st, svc: svc, tr: tr}
}

func command(from int64, text string) tgbotapi.Update {
	cmd := text
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmd = text[:i]
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		From:     &tgbotapi.User{ID: from, LanguageCode: "en"},
		Chat:     &tgbotapi.Chat{ID: from},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func callback(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: from, LanguageCode: "en"},
		Data: data,
	}}
}

func (f *fixture) do(upd tgbotapi.Update) string {
	f.app.handleUpdate(context.Background(), upd)
	f.out.mu.Lock()
	defer f.out.mu.Unlock()
	if len(f.out.sent) == 0 {
		return ""
	}
	return f.out.sent[len(f.out.sent)-1].Text
}

func TestStartAsksLanguageThenRegisters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Directory.AddDeveloperCode(ctx, "1", "ABC123"))

	assert.Equal(t, f.tr.T("en", i18n.ChooseLanguage), f.do(command(100, "/start ABC123")))
	kb, ok := f.out.last(t).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "lang:en", *kb.InlineKeyboard[0][0].CallbackData)

	p, err := f.st.GetParticipant(ctx, "100")
	require.NoError(t, err)
	assert.Nil(t, p, "nothing is stored before the language choice")

	text := f.do(callback(100, "lang:ru"))
	assert.Contains(t, text, "https://t.me/ref_bot?start=100")
	assert.Contains(t, text, "https://delegate.example.com/start?")
	assert.Contains(t, text, "инфлюенсер")
	assert.Equal(t, 1, f.out.requests)

	p, err = f.st.GetParticipant(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "ru", p.Language)
	assert.Equal(t, models.ReferrerDeveloper, p.ReferrerKind)
	assert.Equal(t, 1, p.ReferralLevel)
}

func TestStartDenied(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, f.tr.T("en", i18n.DeniedNoReferral), f.do(command(100, "/start")))
	assert.Equal(t, f.tr.T("en", i18n.DeniedSelfReferral), f.do(command(100, "/start 100")))
	assert.Equal(t, f.tr.T("en", i18n.DeniedInvalidReferral), f.do(command(100, "/start nope")))

	all, err := f.st.ListParticipants(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStartExistingParticipantGetsNewLink(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Directory.AddDeveloperCode(ctx, "1", "ABC123"))
	_, err := f.svc.Engine.Register(ctx, "100", "ABC123", "en")
	require.NoError(t, err)
	_, err = f.svc.Engine.Register(ctx, "200", "100", "en")
	require.NoError(t, err)

	text := f.do(command(200, "/start whatever"))
	assert.Contains(t, text, "Welcome!")
	assert.Contains(t, text, "https://t.me/ref_bot?start=200")

	p, err := f.st.GetParticipant(ctx, "200")
	require.NoError(t, err)
	assert.Len(t, p.UsedLinks, 2)
	assert.Equal(t, "100", p.ReferrerID)
}

func TestStartOwnInviteLinkDenied(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Directory.AddDeveloperCode(ctx, "1", "ABC123"))
	_, err := f.svc.Engine.Register(ctx, "100", "ABC123", "en")
	require.NoError(t, err)

	assert.Equal(t, f.tr.T("en", i18n.DeniedSelfReferral), f.do(command(100, "/start 100")))

	p, err := f.st.GetParticipant(ctx, "100")
	require.NoError(t, err)
	assert.Len(t, p.UsedLinks, 1)
	assert.Equal(t, "ABC123", p.ReferrerID)
}

func TestLanguageCallbackWithoutPending(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, f.tr.T("en", i18n.StartAgain), f.do(callback(100, "lang:en")))
}

func TestLanguageCommand(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.Equal(t, f.tr.T("en", i18n.NotRegistered), f.do(command(100, "/language")))

	require.NoError(t, f.svc.Directory.AddDeveloperCode(ctx, "1", "ABC123"))
	_, err := f.svc.Engine.Register(ctx, "100", "ABC123", "en")
	require.NoError(t, err)

	assert.Equal(t, f.tr.T("en", i18n.ChooseLanguage), f.do(command(100, "/language")))
	assert.Equal(t, "Язык сохранён.", f.do(callback(100, "lang:ru")))

	p, err := f.st.GetParticipant(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "ru", p.Language)
}

func TestOperatorDeveloperCodes(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, "Access denied.", f.do(command(100, "/add_referral ABC")))
	assert.Equal(t, f.tr.T("en", i18n.AddCodeUsage), f.do(command(operatorID, "/add_referral")))
	assert.Equal(t, "Referral code 'ABC' added.", f.do(command(operatorID, "/add_referral ABC")))
	assert.Equal(t, f.tr.T("en", i18n.CodeExists), f.do(command(operatorID, "/add_referral ABC")))
	assert.Equal(t, "Developer referral codes:\nABC", f.do(command(operatorID, "/show_developer_codes")))
	assert.Equal(t, "Referral code 'NOPE' not found.", f.do(command(operatorID, "/delete_developer_code NOPE")))
	assert.Equal(t, "Referral code 'ABC' deleted.", f.do(command(operatorID, "/delete_developer_code ABC")))
	assert.Equal(t, f.tr.T("en", i18n.CodesEmpty), f.do(command(operatorID, "/show_developer_codes")))
}

func TestOperatorReports(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.Equal(t, f.tr.T("en", i18n.ParticipantsEmpty), f.do(command(operatorID, "/show_participants")))

	require.NoError(t, f.svc.Directory.AddDeveloperCode(ctx, "1", "ABC123"))
	_, err := f.svc.Engine.Register(ctx, "100", "ABC123", "en")
	require.NoError(t, err)
	_, err = f.svc.Engine.Register(ctx, "200", "100", "en")
	require.NoError(t, err)

	text := f.do(command(operatorID, "/show_participants"))
	assert.Contains(t, text, "Participants (2):")
	assert.Contains(t, text, "200: referrer 100 (participant), level 2")

	assert.Equal(t, f.tr.T("en", i18n.TreeUsage), f.do(command(operatorID, "/referral_tree")))
	text = f.do(command(operatorID, "/referral_tree ABC123"))
	assert.Equal(t, "Referral tree (2 referrals):\nABC123 (level 0)\n  100 (level 1)\n    200 (level 2)", text)

	assert.Equal(t, "Access denied.", f.do(command(100, "/referral_tree ABC123")))
}

func TestExportSheet(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, f.tr.T("en", i18n.ExportDisabled), f.do(command(operatorID, "/export_sheet")))

	exp := &fakeExporter{}
	f = newFixture(t, exp)
	ctx := context.Background()
	require.NoError(t, f.svc.Directory.AddDeveloperCode(ctx, "1", "ABC123"))
	_, err := f.svc.Engine.Register(ctx, "100", "ABC123", "en")
	require.NoError(t, err)

	assert.Equal(t, "Exported 1 participants to the spreadsheet.", f.do(command(operatorID, "/export_sheet")))
	assert.Equal(t, "Participants", exp.sheet)
	assert.Equal(t, []models.Chain{"tia", "fet"}, exp.chains)

	exp.err = errors.New("quota exceeded")
	assert.Equal(t, f.tr.T("en", i18n.SomethingWrong), f.do(command(operatorID, "/export_sheet")))
}

func TestNotifyNewLink(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Directory.AddDeveloperCode(ctx, "1", "ABC123"))
	_, err := f.svc.Engine.Register(ctx, "100", "ABC123", "ru")
	require.NoError(t, err)

	require.NoError(t, f.app.NotifyNewLink(ctx, "100", "https://x"))
	msg := f.out.last(t)
	assert.Equal(t, int64(100), msg.ChatID)
	assert.Equal(t, "Ссылка неверна или уже использована. Вот новая: https://x", msg.Text)

	assert.Error(t, f.app.NotifyNewLink(ctx, "not-a-chat", "https://x"))
}

func TestSendLongSplitsOnLines(t *testing.T) {
	f := newFixture(t, nil)
	line := strings.Repeat("x", 99)
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString(line)
		b.WriteString("\n")
	}

	require.NoError(t, f.app.sendLong(7, strings.TrimRight(b.String(), "\n")))
	require.Len(t, f.out.sent, 3)
	for _, m := range f.out.sent {
		assert.LessOrEqual(t, len(m.Text), maxMessageLen)
		assert.False(t, strings.HasPrefix(m.Text, "\n"))
	}
}

func TestSendLongKeepsRunesWhole(t *testing.T) {
	f := newFixture(t, nil)
	// 2-byte runes after one ASCII byte put the byte limit mid-rune.
	text := "x" + strings.Repeat("я", 3000)

	require.NoError(t, f.app.sendLong(7, text))
	require.Len(t, f.out.sent, 2)
	var joined strings.Builder
	for _, m := range f.out.sent {
		assert.True(t, utf8.ValidString(m.Text))
		assert.LessOrEqual(t, len(m.Text), maxMessageLen)
		joined.WriteString(m.Text)
	}
	assert.Equal(t, text, joined.String())
}

func TestPlainTextFromStranger(t *testing.T) {
	f := newFixture(t, nil)
	upd := tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "hello",
		From: &tgbotapi.User{ID: 100},
		Chat: &tgbotapi.Chat{ID: 100},
	}}
	assert.Equal(t, f.tr.T("en", i18n.NotRegistered), f.do(upd))
}
