package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/adapter"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// rotation remembers where the previous limited poll stopped so that every
// mailbox is eventually reached.
type rotation struct {
	mu       sync.Mutex
	offset   int
	lastPoll map[string]time.Time
}

// next returns up to n accounts starting after the previous window.
func (r *rotation) next(accounts []models.InboundAccount, n int) []models.InboundAccount {
	total := len(accounts)
	if total == 0 || n <= 0 {
		return nil
	}
	if n > total {
		n = total
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	start := r.offset % total
	out := make([]models.InboundAccount, n)
	for i := range out {
		out[i] = accounts[(start+i)%total]
	}
	r.offset = (start + n) % total
	return out
}

func (r *rotation) polled(accountID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastPoll == nil {
		r.lastPoll = make(map[string]time.Time)
	}
	r.lastPoll[accountID] = at
}

// LastPoll reports when an account was last polled.
func (s *Service) LastPoll(accountID string) (time.Time, bool) {
	s.rotation.mu.Lock()
	defer s.rotation.mu.Unlock()
	t, ok := s.rotation.lastPoll[accountID]
	return t, ok
}

// pollMailboxes fetches a window of active accounts with job.Workers
// concurrent fetchers. One failing account does not stop the others.
func (s *Service) pollMailboxes(ctx context.Context, job Job) error {
	if s.accounts == nil || s.messages == nil {
		s.logger.Printf("scheduler: poll skipped, accounts or message handler not configured")
		return nil
	}
	accounts, err := s.accounts.ActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil
	}

	limit := job.MaxAccounts
	if limit <= 0 || limit > len(accounts) {
		limit = len(accounts)
	}
	targets := s.rotation.next(accounts, limit)
	workers := job.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	queue := make(chan models.InboundAccount)
	results := make(chan error, len(targets))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for account := range queue {
				results <- s.pollAccount(ctx, account)
			}
		}()
	}
feed:
	for _, account := range targets {
		if ctx.Err() != nil {
			break
		}
		select {
		case queue <- account:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()
	close(results)

	var errs []error
	for err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Printf("scheduler: polled %d of %d account(s)", len(targets), len(accounts))
	return nil
}

// pollAccount fetches one mailbox. A panicking connector or handler fails only
// this account. An account still being polled by another run is skipped.
func (s *Service) pollAccount(ctx context.Context, account models.InboundAccount) (err error) {
	release, ok := s.polling.TryLock(account.ID)
	if !ok {
		s.logger.Printf("scheduler: account %s still polling, skipped", account.ID)
		return nil
	}
	defer release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("account %s: panic: %v", account.ID, r)
		}
		if err != nil {
			s.logger.Printf("scheduler: account %s: %v", account.ID, err)
			s.metrics.FetchError(account.ID)
		}
		s.report(ctx, account.ID, err)
	}()

	prepared, err := adapter.AccountForFetch(account, s.secrets)
	if err != nil {
		return fmt.Errorf("account %s: %w", account.ID, err)
	}
	fetcher, err := s.connector.FetcherFor(prepared)
	if err != nil {
		return err
	}
	if err := fetcher.Fetch(ctx, prepared, s.messages); err != nil {
		return fmt.Errorf("account %s: %w", account.ID, err)
	}
	return nil
}

func (s *Service) report(ctx context.Context, accountID string, pollErr error) {
	at := s.now()
	s.rotation.polled(accountID, at)
	if s.status == nil {
		return
	}
	status := PollStatus{AccountID: accountID, At: at.UTC(), OK: pollErr == nil}
	if pollErr != nil {
		status.Error = pollErr.Error()
	}
	if err := s.status.RecordPoll(ctx, status); err != nil {
		s.logger.Printf("scheduler: record poll status for %s: %v", accountID, err)
	}
}
