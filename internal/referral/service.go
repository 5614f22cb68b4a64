// Package referral holds the referral program core: the directory of
// developer codes and participants, registration, one-time links and
// delegation records.
package referral

import (
	"github.com/sirupsen/logrus"

	"referral-bot/internal/models"
	"referral-bot/internal/store"
)

type Options struct {
	WebsiteURL string
	Operators  []string
	Chains     []models.Chain
}

// Service bundles the core components around one store.
type Service struct {
	Directory *Directory
	Engine    *Engine
	Links     *LinkManager
	Recorder  *Recorder
}

func NewService(st store.Store, opts Options, log logrus.FieldLogger) (*Service, error) {
	links, err := NewLinkManager(st, opts.WebsiteURL)
	if err != nil {
		return nil, err
	}
	dir := NewDirectory(st, opts.Operators)
	return &Service{
		Directory: dir,
		Engine:    NewEngine(st, dir, links, log),
		Links:     links,
		Recorder:  NewRecorder(st, opts.Chains, log),
	}, nil
}
