package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// UsageCounts are a vendor's sends within one billing period.
type UsageCounts struct {
	EmailCount   int64
	SMSCount     int64
	RecordedCost decimal.Decimal
}

// UsageRepository reads message-send totals for a vendor in [from, to).
type UsageRepository interface {
	CountsBetween(ctx context.Context, vendorID string, from, to time.Time) (UsageCounts, error)
}

// PostgresUsageRepository reads from the message_sends table.
type PostgresUsageRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUsageRepository(pool *pgxpool.Pool) *PostgresUsageRepository {
	return &PostgresUsageRepository{pool: pool}
}

func (r *PostgresUsageRepository) CountsBetween(ctx context.Context, vendorID string, from, to time.Time) (UsageCounts, error) {
	var (
		counts UsageCounts
		cost   string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(message_count) FILTER (WHERE channel = 'EMAIL'), 0)::bigint,
			COALESCE(SUM(message_count) FILTER (WHERE channel = 'SMS'), 0)::bigint,
			COALESCE(SUM(cost), 0)::text
		FROM message_sends
		WHERE vendor_id = $1 AND sent_at >= $2 AND sent_at < $3`,
		vendorID, from, to,
	).Scan(&counts.EmailCount, &counts.SMSCount, &cost)
	if err != nil {
		return UsageCounts{}, fmt.Errorf("querying message sends: %w", err)
	}

	counts.RecordedCost, err = decimal.NewFromString(cost)
	if err != nil {
		return UsageCounts{}, fmt.Errorf("parsing recorded cost %q: %w", cost, err)
	}
	return counts, nil
}

// UsageSnapshot summarises a vendor's current billing period.
type UsageSnapshot struct {
	VendorID        string          `json:"vendorId"`
	Period          string          `json:"period"`
	EmailCount      int64           `json:"emailCount"`
	SMSCount        int64           `json:"smsCount"`
	TotalMessages   int64           `json:"totalMessages"`
	TotalCost       decimal.Decimal `json:"totalCost"`
	Tier            string          `json:"tier"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	DaysRemaining   int             `json:"daysRemaining"`
}

// Guard runs fn under a circuit breaker for serviceID.
type Guard interface {
	Guard(ctx context.Context, serviceID string, fn func(context.Context) error) error
}

// UsageService builds snapshots from stored sends.
type UsageService struct {
	repo      UsageRepository
	calc      *Calculator
	guard     Guard
	serviceID string
}

// NewUsageService creates a UsageService. When guard is non-nil every
// repository read runs through the circuit for serviceID.
func NewUsageService(repo UsageRepository, calc *Calculator, guard Guard, serviceID string) *UsageService {
	return &UsageService{repo: repo, calc: calc, guard: guard, serviceID: serviceID}
}

// ErrVendorRequired is returned for a snapshot request without a vendor.
var ErrVendorRequired = errors.New("vendor id is required")

// Snapshot returns vendorID's usage for the calendar month containing now (UTC).
func (s *UsageService) Snapshot(ctx context.Context, vendorID string, now time.Time) (*UsageSnapshot, error) {
	if vendorID == "" {
		return nil, ErrVendorRequired
	}

	from, to := billingPeriod(now)

	var counts UsageCounts
	read := func(ctx context.Context) error {
		var err error
		counts, err = s.repo.CountsBetween(ctx, vendorID, from, to)
		return err
	}

	var err error
	if s.guard != nil {
		err = s.guard.Guard(ctx, s.serviceID, read)
	} else {
		err = read(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("reading usage for %s: %w", vendorID, err)
	}

	total := counts.EmailCount + counts.SMSCount
	tier, err := s.calc.ResolveTier(total)
	if err != nil {
		return nil, fmt.Errorf("resolving tier for %s: %w", vendorID, err)
	}

	return &UsageSnapshot{
		VendorID:        vendorID,
		Period:          from.Format("2006-01"),
		EmailCount:      counts.EmailCount,
		SMSCount:        counts.SMSCount,
		TotalMessages:   total,
		TotalCost:       counts.RecordedCost.Round(moneyPlaces),
		Tier:            tier.Name,
		DiscountPercent: tier.DiscountPercent,
		DaysRemaining:   daysRemaining(now),
	}, nil
}

// billingPeriod returns the UTC calendar month containing now as [from, to).
func billingPeriod(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// daysRemaining counts whole days after today until the period ends.
func daysRemaining(now time.Time) int {
	_, to := billingPeriod(now)
	lastDay := to.AddDate(0, 0, -1).Day()
	return lastDay - now.UTC().Day()
}
