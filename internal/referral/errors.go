package referral

import "referral-bot/internal/apperr"

var (
	ErrNoReferralProvided = apperr.New(apperr.KindValidation, "no referral provided")
	ErrSelfReferral       = apperr.New(apperr.KindConflict, "self referral")
	ErrUnknownReferral    = apperr.New(apperr.KindNotFound, "unknown referral")
	ErrMissingID          = apperr.New(apperr.KindValidation, "participant id required")

	ErrParticipantNotFound = apperr.New(apperr.KindNotFound, "participant not found")
	ErrReferrerMismatch    = apperr.New(apperr.KindValidation, "invalid referrer")
	ErrInvalidToken        = apperr.New(apperr.KindValidation, "invalid link id")

	ErrBlankCode    = apperr.New(apperr.KindValidation, "developer code is blank")
	ErrCodeExists   = apperr.New(apperr.KindConflict, "developer code already exists")
	ErrCodeNotFound = apperr.New(apperr.KindNotFound, "developer code not found")
	ErrNotOperator  = apperr.New(apperr.KindAuthorization, "operator only")

	ErrUnknownChain   = apperr.New(apperr.KindValidation, "unknown chain")
	ErrMissingAddress = apperr.New(apperr.KindValidation, "address required")
)
