package tgbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"referral-bot/internal/config"
	"referral-bot/internal/i18n"
	"referral-bot/internal/models"
	"referral-bot/internal/pending"
	"referral-bot/internal/referral"
)

const cbLang = "lang:"

// Telegram rejects longer messages.
const maxMessageLen = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Exporter writes the participant report to a spreadsheet.
type Exporter interface {
	ExportParticipants(ctx context.Context, sheet string, ps []models.Participant, chains []models.Chain) (int, error)
}

type App struct {
	cfg     config.Config
	bot     *tgbotapi.BotAPI
	out     sender
	svc     *referral.Service
	pending pending.Store
	tr      *i18n.Catalog
	sh      Exporter
	log     logrus.FieldLogger
	botLink string
}

// New connects to Telegram. sh may be nil when the export is not configured.
func New(cfg config.Config, svc *referral.Service, pend pending.Store, tr *i18n.Catalog, sh Exporter, log logrus.FieldLogger) (*App, error) {
	b, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	b.Debug = false
	if cfg.BotLink == "" {
		cfg.BotLink = "https://t.me/" + b.Self.UserName
	}
	a := newApp(cfg, b, svc, pend, tr, sh, log)
	a.bot = b
	return a, nil
}

func newApp(cfg config.Config, out sender, svc *referral.Service, pend pending.Store, tr *i18n.Catalog, sh Exporter, log logrus.FieldLogger) *App {
	return &App{
		cfg:     cfg,
		out:     out,
		svc:     svc,
		pending: pend,
		tr:      tr,
		sh:      sh,
		log:     log,
		botLink: cfg.BotLink,
	}
}

func (a *App) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)
	defer a.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			a.handleUpdate(ctx, upd)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		if err := a.handleMessage(ctx, upd.Message); err != nil {
			a.log.WithError(err).WithField("chat", upd.Message.Chat.ID).Error("handle message")
		}
	} else if upd.CallbackQuery != nil {
		if err := a.handleCallback(ctx, upd.CallbackQuery); err != nil {
			a.log.WithError(err).WithField("user", upd.CallbackQuery.From.ID).Error("handle callback")
		}
	}
}

func (a *App) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	_, err := a.out.Send(msg)
	return err
}

// sendLong splits text on line boundaries to stay under the message limit.
// A single overlong line is cut on a rune boundary.
func (a *App) sendLong(chatID int64, text string) error {
	for len(text) > maxMessageLen {
		cut := strings.LastIndex(text[:maxMessageLen], "\n")
		if cut <= 0 {
			cut = maxMessageLen
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		if err := a.SendText(chatID, text[:cut]); err != nil {
			return err
		}
		text = strings.TrimLeft(text[cut:], "\n")
	}
	return a.SendText(chatID, text)
}

// NotifyNewLink tells a participant that their web link was replaced.
func (a *App) NotifyNewLink(ctx context.Context, participantID, url string) error {
	chatID, err := strconv.ParseInt(participantID, 10, 64)
	if err != nil {
		return fmt.Errorf("participant %q is not a chat id: %w", participantID, err)
	}
	lang := a.tr.Default()
	p, err := a.svc.Directory.FindParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	if p != nil && p.Language != "" {
		lang = p.Language
	}
	return a.SendText(chatID, a.tr.T(lang, i18n.LinkResent, url))
}

// ---------- Message handling ----------

func (a *App) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	if m.From == nil || m.Chat == nil {
		return nil
	}
	uid := strconv.FormatInt(m.From.ID, 10)
	chatID := m.Chat.ID
	lang := m.From.LanguageCode

	if !m.IsCommand() {
		return a.handleText(ctx, chatID, uid, lang)
	}
	args := strings.TrimSpace(m.CommandArguments())

	switch m.Command() {
	case "start":
		return a.handleStart(ctx, chatID, uid, args, lang)
	case "language":
		return a.handleLanguage(ctx, chatID, uid, lang)
	case "add_referral", "show_developer_codes", "delete_developer_code",
		"show_participants", "referral_tree", "export_sheet":
		if !a.svc.Directory.IsOperator(uid) {
			return a.SendText(chatID, a.tr.T(lang, i18n.OperatorOnly))
		}
		return a.handleOperator(ctx, chatID, uid, m.Command(), args, lang)
	}
	return nil
}

func (a *App) handleText(ctx context.Context, chatID int64, uid, lang string) error {
	p, err := a.svc.Directory.FindParticipant(ctx, uid)
	if err != nil {
		return a.replyErr(chatID, lang, err)
	}
	if p == nil {
		return a.SendText(chatID, a.tr.T(lang, i18n.NotRegistered))
	}
	return nil
}

// handleStart registers a first-time user after a language choice, or gives
// a known participant a fresh link.
func (a *App) handleStart(ctx context.Context, chatID int64, uid, ref, lang string) error {
	p, err := a.svc.Directory.FindParticipant(ctx, uid)
	if err != nil {
		return a.replyErr(chatID, lang, err)
	}
	if p != nil {
		reg, err := a.svc.Engine.Register(ctx, uid, ref, p.Language)
		if err != nil {
			return a.replyErr(chatID, p.Language, err)
		}
		return a.sendWelcome(chatID, reg)
	}

	if _, _, err := a.svc.Engine.Check(ctx, uid, ref); err != nil {
		a.log.WithFields(logrus.Fields{"user": uid, "ref": ref}).WithError(err).Info("start denied")
		return a.replyErr(chatID, lang, err)
	}
	if err := a.pending.Put(ctx, uid, ref); err != nil {
		return a.replyErr(chatID, lang, err)
	}
	return a.askLanguage(chatID, lang)
}

func (a *App) handleLanguage(ctx context.Context, chatID int64, uid, lang string) error {
	p, err := a.svc.Directory.FindParticipant(ctx, uid)
	if err != nil {
		return a.replyErr(chatID, lang, err)
	}
	if p == nil {
		return a.SendText(chatID, a.tr.T(lang, i18n.NotRegistered))
	}
	return a.askLanguage(chatID, p.Language)
}

func (a *App) askLanguage(chatID int64, lang string) error {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(a.tr.Options()))
	for _, o := range a.tr.Options() {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(o.Label, cbLang+o.Tag))
	}
	msg := tgbotapi.NewMessage(chatID, a.tr.T(lang, i18n.ChooseLanguage))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	_, err := a.out.Send(msg)
	return err
}

func (a *App) sendWelcome(chatID int64, reg referral.Registration) error {
	p := reg.Participant
	invite := a.inviteLink(p.ID)
	if p.ReferrerKind == models.ReferrerDeveloper {
		return a.SendText(chatID, a.tr.T(p.Language, i18n.WelcomeDeveloper, invite, reg.Link.URL))
	}
	return a.SendText(chatID, a.tr.T(p.Language, i18n.WelcomeParticipant, reg.Link.URL, invite))
}

func (a *App) inviteLink(participantID string) string {
	return a.botLink + "?start=" + participantID
}

// ---------- Operator commands ----------

func (a *App) handleOperator(ctx context.Context, chatID int64, uid, cmd, args, lang string) error {
	dir := a.svc.Directory
	switch cmd {
	case "add_referral":
		if args == "" {
			return a.SendText(chatID, a.tr.T(lang, i18n.AddCodeUsage))
		}
		if err := dir.AddDeveloperCode(ctx, uid, args); err != nil {
			return a.replyErr(chatID, lang, err)
		}
		a.log.WithFields(logrus.Fields{"operator": uid, "code": args}).Info("developer code added")
		return a.SendText(chatID, a.tr.T(lang, i18n.CodeAdded, args))

	case "show_developer_codes":
		codes, err := dir.ListDeveloperCodes(ctx, uid)
		if err != nil {
			return a.replyErr(chatID, lang, err)
		}
		if len(codes) == 0 {
			return a.SendText(chatID, a.tr.T(lang, i18n.CodesEmpty))
		}
		return a.sendLong(chatID, a.tr.T(lang, i18n.CodesList, strings.Join(codes, "\n")))

	case "delete_developer_code":
		if args == "" {
			return a.SendText(chatID, a.tr.T(lang, i18n.DeleteCodeUsage))
		}
		err := dir.RemoveDeveloperCode(ctx, uid, args)
		if errors.Is(err, referral.ErrCodeNotFound) {
			return a.SendText(chatID, a.tr.T(lang, i18n.CodeNotFound, args))
		}
		if err != nil {
			return a.replyErr(chatID, lang, err)
		}
		a.log.WithFields(logrus.Fields{"operator": uid, "code": args}).Info("developer code deleted")
		return a.SendText(chatID, a.tr.T(lang, i18n.CodeDeleted, args))

	case "show_participants":
		ps, err := dir.ListParticipants(ctx, uid)
		if err != nil {
			return a.replyErr(chatID, lang, err)
		}
		if len(ps) == 0 {
			return a.SendText(chatID, a.tr.T(lang, i18n.ParticipantsEmpty))
		}
		lines := make([]string, 0, len(ps))
		for _, p := range ps {
			lines = append(lines, fmt.Sprintf("%s: referrer %s (%s), level %d", p.ID, p.ReferrerID, p.ReferrerKind, p.ReferralLevel))
		}
		return a.sendLong(chatID, a.tr.T(lang, i18n.ParticipantsList, len(ps), strings.Join(lines, "\n")))

	case "referral_tree":
		if args == "" {
			return a.SendText(chatID, a.tr.T(lang, i18n.TreeUsage))
		}
		tree, err := dir.Tree(ctx, uid, args, 0)
		if err != nil {
			return a.replyErr(chatID, lang, err)
		}
		return a.sendLong(chatID, a.tr.T(lang, i18n.TreeHeader, tree.Size(), tree.Render()))

	case "export_sheet":
		if a.sh == nil {
			return a.SendText(chatID, a.tr.T(lang, i18n.ExportDisabled))
		}
		ps, err := dir.ListParticipants(ctx, uid)
		if err != nil {
			return a.replyErr(chatID, lang, err)
		}
		n, err := a.sh.ExportParticipants(ctx, a.cfg.SheetName, ps, a.cfg.ChainIDs())
		if err != nil {
			return a.replyErr(chatID, lang, fmt.Errorf("export sheet: %w", err))
		}
		return a.SendText(chatID, a.tr.T(lang, i18n.ExportDone, n))
	}
	return nil
}

// ---------- Callback handling ----------

func (a *App) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q.From == nil {
		return nil
	}
	_, _ = a.out.Request(tgbotapi.NewCallback(q.ID, ""))

	chatID := q.From.ID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}
	uid := strconv.FormatInt(q.From.ID, 10)

	if strings.HasPrefix(q.Data, cbLang) {
		return a.languageSelected(ctx, chatID, uid, strings.TrimPrefix(q.Data, cbLang), q.From.LanguageCode)
	}
	return nil
}

// languageSelected finishes a pending registration, or changes the stored
// language of an existing participant.
func (a *App) languageSelected(ctx context.Context, chatID int64, uid, lang, fallback string) error {
	if !a.tr.Supports(lang) {
		lang = a.tr.Match(fallback).String()
	}

	p, err := a.svc.Directory.FindParticipant(ctx, uid)
	if err != nil {
		return a.replyErr(chatID, lang, err)
	}
	if p != nil {
		if err := a.svc.Directory.SetLanguage(ctx, uid, lang); err != nil {
			return a.replyErr(chatID, lang, err)
		}
		return a.SendText(chatID, a.tr.T(lang, i18n.LanguageSaved))
	}

	ref, ok, err := a.pending.Take(ctx, uid)
	if err != nil {
		return a.replyErr(chatID, lang, err)
	}
	if !ok {
		return a.SendText(chatID, a.tr.T(lang, i18n.StartAgain))
	}
	reg, err := a.svc.Engine.Register(ctx, uid, ref, lang)
	if err != nil {
		return a.replyErr(chatID, lang, err)
	}
	return a.sendWelcome(chatID, reg)
}

// replyErr answers with the localized message for err. Expected outcomes
// are swallowed; anything else is returned for logging.
func (a *App) replyErr(chatID int64, lang string, err error) error {
	key := replyKey(err)
	if sendErr := a.SendText(chatID, a.tr.T(lang, key)); sendErr != nil {
		return sendErr
	}
	if key == i18n.SomethingWrong {
		return err
	}
	return nil
}

func replyKey(err error) string {
	switch {
	case errors.Is(err, referral.ErrNoReferralProvided):
		return i18n.DeniedNoReferral
	case errors.Is(err, referral.ErrSelfReferral):
		return i18n.DeniedSelfReferral
	case errors.Is(err, referral.ErrUnknownReferral):
		return i18n.DeniedInvalidReferral
	case errors.Is(err, referral.ErrNotOperator):
		return i18n.OperatorOnly
	case errors.Is(err, referral.ErrBlankCode):
		return i18n.CodeBlank
	case errors.Is(err, referral.ErrCodeExists):
		return i18n.CodeExists
	case errors.Is(err, referral.ErrParticipantNotFound):
		return i18n.NotRegistered
	default:
		return i18n.SomethingWrong
	}
}
