package credit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ExpiredPaymentPrefix derives the payment id of an offsetting expired
// entry from the original transaction id. Transaction ids are generated
// UUIDs and never reused, so the derived key is unique per original entry
// and repeated sweeps are naturally idempotent.
const ExpiredPaymentPrefix = "expired_"

// SweepReport summarizes one sweeper run.
type SweepReport struct {
	Cutoff    time.Time `json:"cutoff"`
	Found     int       `json:"found"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
}

// SweeperConfig tunes batch size and concurrency of a sweep run.
type SweeperConfig struct {
	BatchSize   int
	Concurrency int
	Location    *time.Location
}

// Sweeper converts expired, unused credit grants into offsetting ledger
// entries. Re-runnable: already-offset entries are skipped; one entry's
// failure never blocks the rest.
type Sweeper struct {
	svc         *Service
	repo        Repository
	batchSize   int
	concurrency int
	loc         *time.Location
}

func NewSweeper(svc *Service, repo Repository, cfg SweeperConfig) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Sweeper{
		svc:         svc,
		repo:        repo,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		loc:         cfg.Location,
	}
}

// Run sweeps everything expiring by the end of the current day in the
// configured reference timezone.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	return s.RunAt(ctx, endOfDay(time.Now().In(s.loc)))
}

// RunAt sweeps everything with an expiration date at or before cutoff.
func (s *Sweeper) RunAt(ctx context.Context, cutoff time.Time) (SweepReport, error) {
	report := SweepReport{Cutoff: cutoff}

	total, err := s.repo.CountExpiring(ctx, cutoff)
	if err != nil {
		return report, err
	}
	report.Found = total

	if total == 0 {
		log.Debug().Time("cutoff", cutoff).Msg("No credits to expire")
		return report, nil
	}

	log.Info().
		Int("found", total).
		Int("batch_size", s.batchSize).
		Time("cutoff", cutoff).
		Msg("Starting credit expiration sweep")

	// Offset pagination is stable here: offsetting entries are of type
	// "expired" and never re-enter the eligible set.
	for offset := 0; offset < total; offset += s.batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := s.repo.ListExpiring(ctx, cutoff, s.batchSize, offset)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			break
		}

		s.processBatch(ctx, batch, &report)
	}

	log.Info().
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Msg("Credit expiration sweep completed")

	return report, nil
}

// processBatch expires one batch with bounded goroutine concurrency.
func (s *Sweeper) processBatch(ctx context.Context, batch []Transaction, report *SweepReport) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, s.concurrency)
	)

	for i := range batch {
		t := batch[i]
		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.expireOne(ctx, &t)

			mu.Lock()
			switch outcome {
			case outcomeProcessed:
				report.Processed++
			case outcomeSkipped:
				report.Skipped++
			default:
				report.Errors++
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
}

type sweepOutcome int

const (
	outcomeProcessed sweepOutcome = iota
	outcomeSkipped
	outcomeError
)

func (s *Sweeper) expireOne(ctx context.Context, t *Transaction) sweepOutcome {
	derivedID := ExpiredPaymentPrefix + t.ID.String()

	offset, err := s.repo.HasPayment(ctx, derivedID)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", t.ID.String()).Msg("Failed to check expiry offset")
		return outcomeError
	}
	if offset {
		return outcomeSkipped
	}

	metadata := Metadata{
		"reason":                  "Credits expired",
		"original_transaction_id": t.ID.String(),
	}
	if t.ExpirationDate.Valid {
		metadata["expiration_date"] = t.ExpirationDate.Time.Format(time.RFC3339)
	}

	_, err = s.svc.ExpireCredits(ctx, t.UserID, t.CreditType, t.Amount, derivedID, metadata)
	if err != nil {
		// A concurrent sweep can win the race between the offset check
		// and the append; the uniqueness guard turns that into a skip.
		if errors.Is(err, ErrDuplicatePayment) {
			return outcomeSkipped
		}
		log.Error().Err(err).Str("transaction_id", t.ID.String()).Msg("Failed to expire credits")
		return outcomeError
	}

	return outcomeProcessed
}

func endOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
