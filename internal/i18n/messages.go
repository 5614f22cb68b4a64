package i18n

import "golang.org/x/text/language"

// Message keys.
const (
	DeniedNoReferral      = "denied_no_referral"
	DeniedInvalidReferral = "denied_invalid_referral"
	DeniedSelfReferral    = "denied_self_referral"
	ChooseLanguage        = "choose_language"
	StartAgain            = "start_again"
	WelcomeDeveloper      = "welcome_developer"
	WelcomeParticipant    = "welcome_participant"
	NewLink               = "new_link"
	LinkResent            = "link_resent"
	LanguageSaved         = "language_saved"
	NotRegistered         = "not_registered"
	SomethingWrong        = "something_wrong"

	OperatorOnly      = "operator_only"
	AddCodeUsage      = "add_code_usage"
	CodeBlank         = "code_blank"
	CodeExists        = "code_exists"
	CodeAdded         = "code_added"
	CodesList         = "codes_list"
	CodesEmpty        = "codes_empty"
	DeleteCodeUsage   = "delete_code_usage"
	CodeDeleted       = "code_deleted"
	CodeNotFound      = "code_not_found"
	ParticipantsList  = "participants_list"
	ParticipantsEmpty = "participants_empty"
	TreeUsage         = "tree_usage"
	TreeHeader        = "tree_header"
	ExportDone        = "export_done"
	ExportDisabled    = "export_disabled"
)

var labelFor = map[language.Tag]string{
	language.English: "English",
	language.Russian: "Русский",
}

var messages = map[language.Tag]map[string]string{
	language.English: {
		DeniedNoReferral:      "Access denied. No referral link provided.",
		DeniedInvalidReferral: "Access denied. Invalid referral link.",
		DeniedSelfReferral:    "Access denied. You cannot use your own referral link.",
		ChooseLanguage:        "Please choose your language:",
		StartAgain:            "Your registration has expired. Please open your referral link again.",
		WelcomeDeveloper:      "Welcome, Influencer! Share your referral link: %s\n\nYour delegation link: %s",
		WelcomeParticipant:    "Welcome! Here is your link: %s\n\nInvite friends with: %s",
		NewLink:               "Here is your new link: %s",
		LinkResent:            "Your link was invalid or already used. Here is a new one: %s",
		LanguageSaved:         "Language saved.",
		NotRegistered:         "You are not registered yet. Open your referral link to start.",
		SomethingWrong:        "Something went wrong. Please try again later.",

		OperatorOnly:      "Access denied.",
		AddCodeUsage:      "Please enter the referral code after the command.\nExample: /add_referral ABC123",
		CodeBlank:         "The referral code cannot be blank. Please try again.",
		CodeExists:        "This referral code already exists.",
		CodeAdded:         "Referral code '%s' added.",
		CodesList:         "Developer referral codes:\n%s",
		CodesEmpty:        "No developer referral codes.",
		DeleteCodeUsage:   "Please enter the referral code after the command.\nExample: /delete_developer_code ABC123",
		CodeDeleted:       "Referral code '%s' deleted.",
		CodeNotFound:      "Referral code '%s' not found.",
		ParticipantsList:  "Participants (%d):\n%s",
		ParticipantsEmpty: "No participants yet.",
		TreeUsage:         "Please enter a participant id or developer code.\nExample: /referral_tree ABC123",
		TreeHeader:        "Referral tree (%d referrals):\n%s",
		ExportDone:        "Exported %d participants to the spreadsheet.",
		ExportDisabled:    "Spreadsheet export is not configured.",
	},
	language.Russian: {
		DeniedNoReferral:      "Доступ запрещён. Реферальная ссылка не указана.",
		DeniedInvalidReferral: "Доступ запрещён. Неверная реферальная ссылка.",
		DeniedSelfReferral:    "Доступ запрещён. Нельзя использовать собственную реферальную ссылку.",
		ChooseLanguage:        "Выберите язык:",
		StartAgain:            "Регистрация устарела. Откройте реферальную ссылку ещё раз.",
		WelcomeDeveloper:      "Добро пожаловать, инфлюенсер! Ваша реферальная ссылка: %s\n\nВаша ссылка для делегирования: %s",
		WelcomeParticipant:    "Добро пожаловать! Ваша ссылка: %s\n\nПриглашайте друзей: %s",
		NewLink:               "Ваша новая ссылка: %s",
		LinkResent:            "Ссылка неверна или уже использована. Вот новая: %s",
		LanguageSaved:         "Язык сохранён.",
		NotRegistered:         "Вы ещё не зарегистрированы. Откройте реферальную ссылку.",
		SomethingWrong:        "Что-то пошло не так. Попробуйте позже.",
		OperatorOnly:          "Доступ запрещён.",
	},
}
