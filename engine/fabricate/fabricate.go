// Package fabricate generates ready-to-deploy content artifacts that close
// one mission's topic gap.
package fabricate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/mission"
	"github.com/ekkoscope/sherlock/pkg/fn"
	"github.com/ekkoscope/sherlock/pkg/llm"
)

// Kind selects the artifact generated for a mission.
type Kind string

const (
	KindSchema  Kind = "schema"
	KindLanding Kind = "landing"
	KindFAQ     Kind = "faq"
	KindContent Kind = "content"
)

// ValidKinds is the set of recognised artifact kinds.
var ValidKinds = map[Kind]bool{KindSchema: true, KindLanding: true, KindFAQ: true, KindContent: true}

// Store is the relational read/write side the fabricator needs.
type Store interface {
	GetMission(ctx context.Context, id int64) (domain.Mission, error)
	GetBusiness(ctx context.Context, id int64) (domain.Business, error)
	SetMissionStatus(ctx context.Context, id int64, status domain.MissionStatus, at time.Time) (domain.Mission, error)
}

const (
	temperature = 0.7
	maxTokens   = 4000
)

// Fabricator turns missions into artifacts.
type Fabricator struct {
	store      Store
	llm        llm.Completer
	capability domain.Capability
	log        *slog.Logger
	now        func() time.Time
}

// New creates a Fabricator.
func New(store Store, completer llm.Completer, c domain.Capability, log *slog.Logger) *Fabricator {
	if log == nil {
		log = slog.Default()
	}
	return &Fabricator{store: store, llm: completer, capability: c, log: log, now: time.Now}
}

// KindFor derives the artifact kind from a mission type.
func KindFor(mt domain.MissionType) Kind {
	switch {
	case mt == domain.MissionTrustBuilding, strings.Contains(string(mt), "schema"):
		return KindSchema
	case mt == domain.MissionCreatePage, mt == domain.MissionContentCreation, mt == domain.MissionContentExpansion:
		return KindLanding
	case strings.Contains(string(mt), "faq"):
		return KindFAQ
	default:
		return KindContent
	}
}

// Fabricate generates one artifact for the mission with a single language
// model call and moves a pending mission to in_progress. kind "" derives the
// artifact from the mission type.
func (f *Fabricator) Fabricate(ctx context.Context, missionID int64, kind Kind) fn.Result[domain.Fabrication] {
	const op = "fabricate"
	if err := f.capability.Check(op); err != nil {
		return fn.Err[domain.Fabrication](err)
	}
	if err := domain.ValidateID("mission_id", missionID); err != nil {
		return fn.Err[domain.Fabrication](domain.Fail(op, domain.ErrInvalidInput, err))
	}
	if kind != "" && !ValidKinds[kind] {
		return fn.Err[domain.Fabrication](domain.Fail(op, domain.ErrInvalidInput,
			domain.NewValidationError("kind", string(kind), domain.ErrInvalidInput)))
	}

	m, err := f.store.GetMission(ctx, missionID)
	if err != nil {
		return fn.Err[domain.Fabrication](domain.Fail(op, domain.StoreKind(err, domain.ErrMissionNotFound), err))
	}
	biz, err := f.store.GetBusiness(ctx, m.BusinessID)
	if err != nil {
		return fn.Err[domain.Fabrication](domain.Fail(op, domain.StoreKind(err, domain.ErrBusinessNotFound), err))
	}

	if kind == "" {
		kind = KindFor(m.MissionType)
	}
	raw, err := f.llm.Complete(ctx, Prompt(kind, biz, m), temperature, maxTokens)
	if err != nil {
		return fn.Err[domain.Fabrication](domain.Fail(op, domain.ErrGeneration, err))
	}
	file := artifact(kind, m, llm.StripFences(raw))

	if m.Status == domain.MissionPending {
		if _, err := f.store.SetMissionStatus(ctx, m.ID, domain.MissionInProgress, f.now().UTC()); err != nil {
			f.log.Warn("fabricate: mission status not updated", "mission_id", m.ID, "err", err)
		}
	}

	f.log.Info("mission fabricated", "mission_id", m.ID, "business_id", m.BusinessID, "kind", kind, "bytes", len(file.Content))
	return fn.Ok(domain.Fabrication{MissionID: m.ID, Files: []domain.ArtifactFile{file}})
}

func artifact(kind Kind, m domain.Mission, content string) domain.ArtifactFile {
	slug := strings.Trim(m.TargetURLSlug, "/")
	if slug == "" {
		slug = mission.Slug(m.MissingTopic)
	}
	if slug == "" {
		slug = fmt.Sprintf("mission-%d", m.ID)
	}
	switch kind {
	case KindSchema:
		return domain.ArtifactFile{
			Filename:    "schema-" + slug + ".json",
			Content:     content,
			Type:        "application/ld+json",
			Description: fmt.Sprintf("JSON-LD structured data covering '%s'", m.MissingTopic),
		}
	case KindLanding:
		return domain.ArtifactFile{
			Filename:    slug + ".html",
			Content:     content,
			Type:        "text/html",
			Description: fmt.Sprintf("Landing page targeting '%s'", m.MissingTopic),
		}
	case KindFAQ:
		return domain.ArtifactFile{
			Filename:    "faq-" + slug + ".json",
			Content:     content,
			Type:        "application/json",
			Description: fmt.Sprintf("FAQ questions and answers about '%s'", m.MissingTopic),
		}
	default:
		return domain.ArtifactFile{
			Filename:    slug + ".md",
			Content:     content,
			Type:        "text/markdown",
			Description: fmt.Sprintf("Content section about '%s'", m.MissingTopic),
		}
	}
}
