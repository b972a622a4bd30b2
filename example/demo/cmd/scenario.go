package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AntonStoeckl/unit-of-work-orm-go/example/core"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine"
)

// Report summarizes one scenario run.
type Report struct {
	Created   int
	Stubs     int
	Populated int
	Renamed   int
	Remaining int64
}

// Scenario runs the user lifecycle against an ORM, each step in its own unit of work.
type Scenario struct {
	orm    *sqlengine.ORM
	logger *slog.Logger
}

// NewScenario creates a Scenario that logs its progress to logger.
func NewScenario(o *sqlengine.ORM, logger *slog.Logger) *Scenario {
	return &Scenario{orm: o, logger: logger}
}

// Run creates n users, reads them back, renames them and removes them unless keepData is set.
func (s *Scenario) Run(ctx context.Context, n int, keepData bool) (Report, error) {
	report := Report{}

	emails, err := s.createUsers(ctx, n)
	if err != nil {
		return report, err
	}
	report.Created = len(emails)

	if report.Stubs, err = s.countStubs(ctx); err != nil {
		return report, err
	}

	if report.Populated, err = s.countPopulated(ctx); err != nil {
		return report, err
	}

	if report.Renamed, err = s.renameUsers(ctx, emails); err != nil {
		return report, err
	}

	if !keepData {
		if err = s.removeUsers(ctx, emails); err != nil {
			return report, err
		}
	}

	if report.Remaining, err = sqlengine.Count[core.User](ctx, s.orm.Fork(), nil); err != nil {
		return report, err
	}

	return report, nil
}

func (s *Scenario) createUsers(ctx context.Context, n int) ([]string, error) {
	em := s.orm.Fork()
	emails := make([]string, 0, n)

	for i := 1; i <= n; i++ {
		email := fmt.Sprintf("user%d@example.com", i)

		_, err := sqlengine.Create[core.User](em, orm.Fields{
			"name":  fmt.Sprintf("User %d", i),
			"email": email,
			"location": orm.Fields{
				"name":    fmt.Sprintf("home of user %d", i),
				"address": fmt.Sprintf("%d Main St", 100+i),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("creating user %d: %w", i, err)
		}

		emails = append(emails, email)
	}

	if err := em.Flush(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "users created", "count", n)

	return emails, nil
}

// countStubs reads all users without populating and counts the locations that are only stubs.
func (s *Scenario) countStubs(ctx context.Context) (int, error) {
	users, err := sqlengine.Find[core.User](ctx, s.orm.Fork(), nil)
	if err != nil {
		return 0, err
	}

	stubs := 0
	for _, user := range users {
		if !user.Location.IsLoaded() {
			stubs++
		}
	}

	return stubs, nil
}

func (s *Scenario) countPopulated(ctx context.Context) (int, error) {
	users, err := sqlengine.Find[core.User](ctx, s.orm.Fork(), nil, orm.Populate("location"))
	if err != nil {
		return 0, err
	}

	populated := 0
	for _, user := range users {
		if location, loaded := user.Location.Get(); loaded {
			s.logger.DebugContext(ctx, "user location", "user", user.Email, "location", location.Name)
			populated++
		}
	}

	return populated, nil
}

func (s *Scenario) renameUsers(ctx context.Context, emails []string) (int, error) {
	em := s.orm.Fork()

	users, err := sqlengine.Find[core.User](ctx, em, orm.Criteria{"email": orm.In(toAny(emails)...)})
	if err != nil {
		return 0, err
	}

	for _, user := range users {
		user.Rename(user.Name + " (renamed)")
		if err = em.MarkDirty(user); err != nil {
			return 0, err
		}
	}

	if err = em.Flush(ctx); err != nil {
		return 0, err
	}

	return len(users), nil
}

func (s *Scenario) removeUsers(ctx context.Context, emails []string) error {
	em := s.orm.Fork()

	for _, email := range emails {
		user, err := sqlengine.FindOneOrFail[core.User](ctx, em, orm.Criteria{"email": email})
		if err != nil {
			return err
		}

		if err = em.Remove(user); err != nil {
			return err
		}
	}

	return em.Flush(ctx)
}

func toAny(values []string) []any {
	converted := make([]any, 0, len(values))
	for _, v := range values {
		converted = append(converted, v)
	}

	return converted
}
