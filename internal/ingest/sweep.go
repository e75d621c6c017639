// Package ingest turns artifact files written by the execution engine into
// scan and remediation facts.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/evidence"
	"github.com/yourorg/remediation-reconciler/internal/model"
	"github.com/yourorg/remediation-reconciler/internal/vocab"
)

// Referents answers which servers and catalog items exist.
type Referents interface {
	ServerIDs(ctx context.Context) (map[string]struct{}, error)
	ItemCodes(ctx context.Context) (map[string]struct{}, error)
}

type FactWriter interface {
	UpsertScanFact(ctx context.Context, f model.ScanFact) error
	AppendRemediationFact(ctx context.Context, f model.RemediationFact) error
}

type SkipReason string

const (
	SkipUnknownServer SkipReason = "unknown_server"
	SkipUnknownItem   SkipReason = "unknown_item"
	SkipOutOfScope    SkipReason = "out_of_scope"
)

// Report summarises one sweep. Every artifact seen lands in exactly one of
// Succeeded, Failed, Superseded, Unchanged or Skipped.
type Report struct {
	SweepID    string
	Kind       Kind
	Location   string
	StampedAt  time.Time
	Processed  int
	Succeeded  int
	Failed     int
	Superseded int
	// Unchanged counts artifacts whose current version was ingested by an
	// earlier sweep.
	Unchanged int
	Unmapped  int
	Skipped   map[SkipReason]int
	ByTier    map[string]int
	Errors    *multierror.Error
}

func (r *Report) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// Err returns the aggregated per-artifact errors, or nil.
func (r *Report) Err() error {
	return r.Errors.ErrorOrNil()
}

func (r *Report) fail(name string, err error) {
	r.Failed++
	r.Errors = multierror.Append(r.Errors, fmt.Errorf("%s: %w", name, err))
}

func (r *Report) skip(name string, reason SkipReason, err error) {
	r.Skipped[reason]++
	if err != nil {
		r.Errors = multierror.Append(r.Errors, fmt.Errorf("%s: %w", name, err))
	}
}

type Sweeper struct {
	Kind       Kind
	Store      evidence.Store
	Refs       Referents
	Facts      FactWriter
	Vocabulary *vocab.Table
	Parser     Chain
	Ledger     Ledger
	// AllowList, when non-empty, limits the sweep to these server ids.
	AllowList map[string]struct{}
	Now       func() time.Time
	Log       logrus.FieldLogger
}

func NewSweeper(kind Kind, store evidence.Store, refs Referents, facts FactWriter, log logrus.FieldLogger) *Sweeper {
	return &Sweeper{
		Kind:       kind,
		Store:      store,
		Refs:       refs,
		Facts:      facts,
		Vocabulary: vocab.Default(),
		Parser:     DefaultChain(),
		Ledger:     NewMemoryLedger(),
		Now:        time.Now,
		Log:        log,
	}
}

// WithAllowList scopes the sweep to the given server ids.
func (s *Sweeper) WithAllowList(serverIDs []string) *Sweeper {
	if len(serverIDs) == 0 {
		s.AllowList = nil
		return s
	}
	s.AllowList = make(map[string]struct{}, len(serverIDs))
	for _, id := range serverIDs {
		s.AllowList[id] = struct{}{}
	}
	return s
}

type pendingScan struct {
	name   string
	digest string
	fact   model.ScanFact
}

// markIngested records the artifact version in the ledger. A ledger write
// failure only means the file is ingested again on the next sweep.
func (s *Sweeper) markIngested(ctx context.Context, log logrus.FieldLogger, name, digest string, at time.Time) {
	if err := s.Ledger.MarkIngested(ctx, s.Store.Location(), name, digest, at); err != nil {
		log.WithField("file", name).Warnf("sweep: ledger write failed: %v", err)
	}
}

// Sweep processes every artifact currently in the store. Per-artifact problems
// are counted in the report; an error is returned only when the sweep cannot
// start at all.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	stamp := s.Now().Truncate(time.Minute)
	rep := &Report{
		SweepID:   uuid.NewString(),
		Kind:      s.Kind,
		Location:  s.Store.Location(),
		StampedAt: stamp,
		Skipped:   map[SkipReason]int{},
		ByTier:    map[string]int{},
	}
	log := s.Log.WithFields(logrus.Fields{"sweep_id": rep.SweepID, "kind": s.Kind})

	names, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		log.Infof("sweep: no artifacts in %s", rep.Location)
		return rep, nil
	}
	servers, err := s.Refs.ServerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load server ids: %w", err)
	}
	items, err := s.Refs.ItemCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load item codes: %w", err)
	}

	var order []model.Pair
	pending := map[model.Pair]pendingScan{}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Processed++

		ref, err := ParseName(name, s.Kind)
		if err != nil {
			rep.fail(name, err)
			continue
		}
		if s.AllowList != nil {
			if _, ok := s.AllowList[ref.ServerID]; !ok {
				rep.skip(name, SkipOutOfScope, nil)
				continue
			}
		}
		body, err := s.Store.Read(ctx, name)
		if err != nil {
			rep.fail(name, fmt.Errorf("read: %w", err))
			continue
		}
		digest := Digest(body)
		seen, err := s.Ledger.Ingested(ctx, rep.Location, name, digest)
		if err != nil {
			rep.fail(name, fmt.Errorf("ledger: %w", err))
			continue
		}
		if seen {
			rep.Unchanged++
			continue
		}
		art, err := s.Parser.Parse(body)
		if err != nil {
			rep.fail(name, err)
			// the same bytes would fail the same way next time
			s.markIngested(ctx, log, name, digest, stamp)
			continue
		}
		rep.ByTier[art.Tier]++

		code := art.ItemCode
		if code == "" {
			code = ref.ItemCode
		}
		// left out of the ledger so they are retried once inventory catches up
		if _, ok := servers[ref.ServerID]; !ok {
			rep.skip(name, SkipUnknownServer, apperr.New(apperr.KindReferentialViolation, "unknown server %q", ref.ServerID))
			continue
		}
		if _, ok := items[code]; !ok {
			rep.skip(name, SkipUnknownItem, apperr.New(apperr.KindReferentialViolation, "unknown item %q", code))
			continue
		}
		evidenceText := art.Evidence
		if evidenceText == "" {
			evidenceText = name
		}

		switch s.Kind {
		case KindScan:
			fact, err := s.scanFact(ref.ServerID, code, art, evidenceText, stamp)
			if err != nil {
				rep.fail(name, err)
				s.markIngested(ctx, log, name, digest, stamp)
				continue
			}
			if fact.Status == model.StatusUnknown {
				rep.Unmapped++
				log.WithField("file", name).Warnf("sweep: unmapped status token %q", fact.RawStatus)
			}
			pair := fact.Pair()
			if prev, dup := pending[pair]; dup {
				rep.Superseded++
				log.WithField("file", prev.name).Debugf("sweep: superseded by %s", name)
				s.markIngested(ctx, log, prev.name, prev.digest, stamp)
			} else {
				order = append(order, pair)
			}
			pending[pair] = pendingScan{name: name, digest: digest, fact: fact}

		case KindFix:
			if !art.HasSuccess {
				rep.fail(name, apperr.New(apperr.KindParseRecoveryExhausted, "missing is_success"))
				s.markIngested(ctx, log, name, digest, stamp)
				continue
			}
			fact := model.RemediationFact{
				ServerID:      ref.ServerID,
				ItemCode:      code,
				ActionAt:      stamp,
				Success:       art.Success,
				FailureReason: FailureReason(art),
				Evidence:      evidenceText,
			}
			if err := s.Facts.AppendRemediationFact(ctx, fact); err != nil {
				rep.fail(name, fmt.Errorf("insert: %w", err))
				continue
			}
			s.markIngested(ctx, log, name, digest, stamp)
			rep.Succeeded++
		}
	}

	for _, pair := range order {
		p := pending[pair]
		if err := s.Facts.UpsertScanFact(ctx, p.fact); err != nil {
			rep.fail(p.name, fmt.Errorf("upsert: %w", err))
			continue
		}
		s.markIngested(ctx, log, p.name, p.digest, stamp)
		rep.Succeeded++
	}

	entry := log.WithFields(logrus.Fields{
		"processed":  rep.Processed,
		"succeeded":  rep.Succeeded,
		"failed":     rep.Failed,
		"skipped":    rep.SkippedTotal(),
		"superseded": rep.Superseded,
		"unchanged":  rep.Unchanged,
	})
	if rep.Failed > 0 {
		entry.Warnf("sweep: completed with failures: %v", rep.Err())
	} else {
		entry.Infof("sweep: completed")
	}
	return rep, nil
}

func (s *Sweeper) scanFact(serverID, code string, art *Artifact, evidenceText string, stamp time.Time) (model.ScanFact, error) {
	if art.StatusToken == "" {
		return model.ScanFact{}, apperr.New(apperr.KindParseRecoveryExhausted, "missing status")
	}
	status, _ := s.Vocabulary.Normalize(art.StatusToken)
	return model.ScanFact{
		ServerID:   serverID,
		ItemCode:   code,
		Status:     status,
		RawStatus:  art.StatusToken,
		Evidence:   evidenceText,
		ObservedAt: stamp,
	}, nil
}
