// Package main implements a load generator that drives the unit of work against a configured store
// with a configurable request rate and a mix of write and read scenarios on users and their locations.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AntonStoeckl/unit-of-work-orm-go/example/core"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine"
)

const (
	scenarioWrite = "write"
	scenarioRead  = "read"

	operationTimeout = 5 * time.Second
)

// LoadGenerator runs scenarios at a fixed rate, each scenario in its own unit of work.
type LoadGenerator struct {
	orm    *sqlengine.ORM
	config Config
	logger *slog.Logger

	ticker   *time.Ticker
	stopChan chan struct{}
	stopped  bool
	wg       sync.WaitGroup

	nextUser atomic.Int64

	// emails of users known to exist, used to pick read and remove targets
	emails []string

	requestCount int64
	errorCount   int64
	startTime    time.Time
	mu           sync.RWMutex
}

// NewLoadGenerator creates a LoadGenerator for an ORM whose registry contains the example entities.
func NewLoadGenerator(o *sqlengine.ORM, config Config, logger *slog.Logger) *LoadGenerator {
	return &LoadGenerator{
		orm:      o,
		config:   config,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Seed creates the initial users in one flush.
func (lg *LoadGenerator) Seed(ctx context.Context) error {
	em := lg.orm.Fork()
	emails := make([]string, 0, lg.config.InitialUsers)

	for range lg.config.InitialUsers {
		email := lg.nextEmail()
		if _, err := sqlengine.Create[core.User](em, userFields(email)); err != nil {
			return err
		}

		emails = append(emails, email)
	}

	if err := em.Flush(ctx); err != nil {
		return fmt.Errorf("seeding users failed: %w", err)
	}

	lg.mu.Lock()
	lg.emails = append(lg.emails, emails...)
	lg.mu.Unlock()

	lg.logger.InfoContext(ctx, "users seeded", "count", len(emails))

	return nil
}

// Start begins load generation with the configured request rate.
// It runs until the context is cancelled or Stop() is called.
func (lg *LoadGenerator) Start(ctx context.Context) error {
	lg.mu.Lock()
	lg.startTime = time.Now()
	lg.requestCount = 0
	lg.errorCount = 0
	lg.mu.Unlock()

	interval := time.Second / time.Duration(lg.config.Rate)
	lg.ticker = time.NewTicker(interval)
	defer lg.ticker.Stop()

	lg.logger.InfoContext(ctx, "load generator starting",
		"rate", lg.config.Rate,
		"interval", interval.String(),
		"goroutines", runtime.NumGoroutine(),
	)

	lg.wg.Add(1)
	go lg.statsReporter(ctx)

	for {
		select {
		case <-ctx.Done():
			lg.logger.Info("load generator stopping due to context cancellation")
			return ctx.Err()

		case <-lg.stopChan:
			lg.logger.Info("load generator stopping due to stop signal")
			return nil

		case <-lg.ticker.C:
			if !lg.spawnScenario(ctx) {
				return nil
			}
		}
	}
}

// Stop waits for running scenarios until ctx expires and logs the final stats.
func (lg *LoadGenerator) Stop(ctx context.Context) error {
	lg.mu.Lock()
	if !lg.stopped {
		lg.stopped = true
		close(lg.stopChan)
	}
	lg.mu.Unlock()

	done := make(chan struct{})
	go func() {
		lg.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lg.logStats("final stats")
		return nil
	case <-ctx.Done():
		lg.logStats("final stats")
		return errors.New("shutdown timeout exceeded")
	}
}

// spawnScenario starts a scenario unless Stop was called, adding to the WaitGroup before Stop waits on it.
func (lg *LoadGenerator) spawnScenario(ctx context.Context) bool {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if lg.stopped {
		return false
	}

	lg.wg.Add(1)
	go lg.executeScenario(ctx)

	return true
}

func (lg *LoadGenerator) executeScenario(ctx context.Context) {
	defer lg.wg.Done()

	scenarioType := lg.selectScenario()

	err := lg.runScenario(ctx, scenarioType)

	lg.mu.Lock()
	lg.requestCount++
	if err != nil {
		lg.errorCount++
	}
	lg.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		lg.logger.WarnContext(ctx, "scenario failed", "scenario", scenarioType, "error", err)
	}
}

func (lg *LoadGenerator) runScenario(ctx context.Context, scenarioType string) error {
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	switch scenarioType {
	case scenarioWrite:
		return lg.runWriteScenario(opCtx)
	case scenarioRead:
		return lg.runReadScenario(opCtx)
	default:
		return fmt.Errorf("unknown scenario type: %s", scenarioType)
	}
}

// selectScenario applies the weights [write, read], e.g. [20, 80] -> write: 0-19, read: 20-99.
func (lg *LoadGenerator) selectScenario() string {
	if rand.IntN(100) < lg.config.ScenarioWeights[0] { //nolint:gosec
		return scenarioWrite
	}

	return scenarioRead
}

// runWriteScenario either registers a new user with a new location or removes a known user.
func (lg *LoadGenerator) runWriteScenario(ctx context.Context) error {
	if rand.IntN(2) == 0 { //nolint:gosec
		return lg.createUser(ctx)
	}

	return lg.removeUser(ctx)
}

func (lg *LoadGenerator) createUser(ctx context.Context) error {
	em := lg.orm.Fork()
	email := lg.nextEmail()

	if _, err := sqlengine.Create[core.User](em, userFields(email)); err != nil {
		return err
	}

	if err := em.Flush(ctx); err != nil {
		return err
	}

	lg.mu.Lock()
	lg.emails = append(lg.emails, email)
	lg.mu.Unlock()

	return nil
}

func (lg *LoadGenerator) removeUser(ctx context.Context) error {
	email, ok := lg.takeEmail()
	if !ok {
		return lg.createUser(ctx)
	}

	em := lg.orm.Fork()

	user, err := sqlengine.FindOneOrFail[core.User](ctx, em, orm.Criteria{"email": email}, orm.Populate("location"))
	if err != nil {
		return err
	}

	if err = em.Remove(user); err != nil {
		return err
	}

	if location, loaded := user.Location.Get(); loaded {
		if err = em.Remove(location); err != nil {
			return err
		}
	}

	return em.Flush(ctx)
}

// runReadScenario reads a known user with its location and renames it.
func (lg *LoadGenerator) runReadScenario(ctx context.Context) error {
	email, ok := lg.pickEmail()
	if !ok {
		return lg.createUser(ctx)
	}

	em := lg.orm.Fork()

	user, found, err := sqlengine.FindOne[core.User](ctx, em, orm.Criteria{"email": email}, orm.Populate("location"))
	if err != nil {
		return err
	}

	// removed concurrently
	if !found {
		return nil
	}

	user.Rename(fmt.Sprintf("User %d", rand.IntN(1_000_000))) //nolint:gosec
	if err = em.MarkDirty(user); err != nil {
		return err
	}

	err = em.Flush(ctx)
	if errors.Is(err, orm.ErrNotFound) {
		return nil
	}

	return err
}

func (lg *LoadGenerator) nextEmail() string {
	return fmt.Sprintf("load-user-%d@example.com", lg.nextUser.Add(1))
}

func (lg *LoadGenerator) pickEmail() (string, bool) {
	lg.mu.RLock()
	defer lg.mu.RUnlock()

	if len(lg.emails) == 0 {
		return "", false
	}

	return lg.emails[rand.IntN(len(lg.emails))], true //nolint:gosec
}

// takeEmail removes a random known email so that no other scenario picks it for removal.
func (lg *LoadGenerator) takeEmail() (string, bool) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if len(lg.emails) == 0 {
		return "", false
	}

	i := rand.IntN(len(lg.emails)) //nolint:gosec
	email := lg.emails[i]
	lg.emails[i] = lg.emails[len(lg.emails)-1]
	lg.emails = lg.emails[:len(lg.emails)-1]

	return email, true
}

// Stats returns the number of executed scenarios and how many of them failed.
func (lg *LoadGenerator) Stats() (requests, failures int64) {
	lg.mu.RLock()
	defer lg.mu.RUnlock()

	return lg.requestCount, lg.errorCount
}

func (lg *LoadGenerator) statsReporter(ctx context.Context) {
	defer lg.wg.Done()

	ticker := time.NewTicker(lg.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-lg.stopChan:
			return
		case <-ticker.C:
			lg.logStats("stats")
		}
	}
}

func (lg *LoadGenerator) logStats(msg string) {
	lg.mu.RLock()
	duration := time.Since(lg.startTime)
	requests := lg.requestCount
	failures := lg.errorCount
	users := len(lg.emails)
	lg.mu.RUnlock()

	if duration <= 0 || requests == 0 {
		return
	}

	lg.logger.Info(msg,
		"requests", requests,
		"duration", duration.Truncate(time.Second).String(),
		"requests_per_second", fmt.Sprintf("%.1f", float64(requests)/duration.Seconds()),
		"errors", failures,
		"error_rate_percent", fmt.Sprintf("%.1f", float64(failures)/float64(requests)*100),
		"known_users", users,
		"goroutines", runtime.NumGoroutine(),
	)
}

func userFields(email string) orm.Fields {
	return orm.Fields{
		"name":  "Load Test User",
		"email": email,
		"location": orm.Fields{
			"name":    "home of " + email,
			"address": fmt.Sprintf("%d Main St", rand.IntN(9_000)+1), //nolint:gosec
		},
	}
}
