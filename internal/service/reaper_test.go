package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirbydesk/simplify-engine/config"
	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

func newReaperUnderTest(t *testing.T, store ReaperStore, reports *fakeReportRepo, clock *data.FixedTimeProvider) *ReaperService {
	t.Helper()
	svc, err := NewReaperService(ReaperServiceOptions{
		Store:   store,
		Reports: reports,
		Config: config.ReaperConfig{
			Interval:     time.Minute,
			StuckAfter:   5 * time.Minute,
			ReportMaxAge: 30 * 24 * time.Hour,
			BatchSize:    500,
		},
		Logger: testLogger(),
		Time:   clock,
	})
	require.NoError(t, err)
	return svc
}

func TestReaper_TickReapsStuckJobs(t *testing.T) {
	ctx := context.Background()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	jobs := newFakeJobRepo()
	jobs.now = clock.Now
	reports := newFakeReportRepo()
	svc := newReaperUnderTest(t, jobs, reports, clock)

	// A job claimed now, then abandoned past the stuck window.
	stuck, err := jobs.Create(ctx, &model.CreateJobRequest{PageID: "page-1", VariantCode: "de-x-ls"})
	require.NoError(t, err)
	_, err = jobs.NextPending(ctx)
	require.NoError(t, err)

	clock.AddTime(10 * time.Minute)

	// A second job claimed after the advance is still within the window.
	fresh, err := jobs.Create(ctx, &model.CreateJobRequest{PageID: "page-2", VariantCode: "de-x-ls"})
	require.NoError(t, err)
	_, err = jobs.NextPending(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Tick(ctx))

	// The abandoned job left a timeout report and was removed.
	require.Len(t, reports.reports, 1)
	report := reports.reports[0]
	assert.Equal(t, model.JobStatusTimeout, report.Status)
	assert.Equal(t, "page-1", report.PageID)
	assert.Equal(t, "job exceeded the processing window of 5m0s", report.Error)
	assert.Equal(t, []string{stuck.ID}, jobs.deleted)

	// The fresh job survived untouched.
	kept, err := jobs.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, kept.Status)
}

func TestReaper_TickIgnoresPendingJobs(t *testing.T) {
	ctx := context.Background()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	jobs := newFakeJobRepo()
	jobs.now = clock.Now
	reports := newFakeReportRepo()
	svc := newReaperUnderTest(t, jobs, reports, clock)

	// Pending jobs have no processing deadline, however old they are.
	job, err := jobs.Create(ctx, &model.CreateJobRequest{PageID: "page-1", VariantCode: "de-x-ls"})
	require.NoError(t, err)
	clock.AddTime(24 * time.Hour)

	require.NoError(t, svc.Tick(ctx))

	assert.Empty(t, reports.reports)
	kept, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, kept.Status)
}

func TestReaper_TickPrunesReportsInBatches(t *testing.T) {
	ctx := context.Background()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	jobs := newFakeJobRepo()
	reports := newFakeReportRepo()
	reports.deleteBatches = []int64{500, 500, 120}
	svc := newReaperUnderTest(t, jobs, reports, clock)

	require.NoError(t, svc.Tick(ctx))

	// All batches were consumed before the loop stopped.
	assert.Empty(t, reports.deleteBatches)
}

// lockedStore simulates another replica holding the reaper lock.
type lockedStore struct {
	*fakeJobRepo
}

func (s *lockedStore) WithReaperLock(_ context.Context, _ func(context.Context) error) (bool, error) {
	return false, nil
}

func TestReaper_TickSkipsWhenLockContended(t *testing.T) {
	ctx := context.Background()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	jobs := newFakeJobRepo()
	jobs.now = clock.Now
	reports := newFakeReportRepo()
	svc := newReaperUnderTest(t, &lockedStore{fakeJobRepo: jobs}, reports, clock)

	_, err := jobs.Create(ctx, &model.CreateJobRequest{PageID: "page-1", VariantCode: "de-x-ls"})
	require.NoError(t, err)
	_, err = jobs.NextPending(ctx)
	require.NoError(t, err)
	clock.AddTime(time.Hour)

	require.NoError(t, svc.Tick(ctx))

	// Nothing was reaped while the lock was held elsewhere.
	assert.Empty(t, reports.reports)
	assert.Empty(t, jobs.deleted)
}

func TestNewReaperService_RequiresDependencies(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{Reports: newFakeReportRepo()})
	require.Error(t, err)

	_, err = NewReaperService(ReaperServiceOptions{Store: newFakeJobRepo()})
	require.Error(t, err)
}
