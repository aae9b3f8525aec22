package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

func newQueueUnderTest(jobs *fakeJobRepo, reports *fakeReportRepo, clock *data.FixedTimeProvider) *QueueService {
	jobs.now = clock.Now
	return NewQueueService(QueueServiceOptions{
		Jobs:    jobs,
		Reports: reports,
		Logger:  testLogger(),
		Time:    clock,
	})
}

func enqueueRequest() *model.CreateJobRequest {
	return &model.CreateJobRequest{
		PageID:      "page-1",
		PageTitle:   "Home",
		VariantCode: "de-x-ls",
		Snapshot:    model.FieldMap{"headline": "Hello"},
	}
}

func TestQueueService_AddJob(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	queue := newQueueUnderTest(newFakeJobRepo(), newFakeReportRepo(), clock)

	job, err := queue.AddJob(context.Background(), enqueueRequest())

	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, "Hello", job.SourceSnapshot["headline"])
}

func TestQueueService_AddJobValidation(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Now())
	queue := newQueueUnderTest(newFakeJobRepo(), newFakeReportRepo(), clock)

	_, err := queue.AddJob(context.Background(), &model.CreateJobRequest{VariantCode: "de-x-ls"})

	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestQueueService_AddJobRejectsFreshDuplicate(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	queue := newQueueUnderTest(newFakeJobRepo(), newFakeReportRepo(), clock)
	ctx := context.Background()

	_, err := queue.AddJob(ctx, enqueueRequest())
	require.NoError(t, err)

	clock.AddTime(10 * time.Minute)
	_, err = queue.AddJob(ctx, enqueueRequest())

	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestQueueService_AddJobReplacesStaleBlocker(t *testing.T) {
	jobs := newFakeJobRepo()
	reports := newFakeReportRepo()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	queue := newQueueUnderTest(jobs, reports, clock)
	ctx := context.Background()

	stale, err := queue.AddJob(ctx, enqueueRequest())
	require.NoError(t, err)

	clock.AddTime(31 * time.Minute)
	replacement, err := queue.AddJob(ctx, enqueueRequest())
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, replacement.ID)

	// The stale job was reported as timed out and removed.
	require.Len(t, reports.reports, 1)
	assert.Equal(t, model.JobStatusTimeout, reports.reports[0].Status)
	assert.Equal(t, "job exceeded the processing window and was replaced", reports.reports[0].Error)
	_, err = jobs.GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, data.ErrJobNotFound)
}

func TestQueueService_AddJobAllowsOtherVariants(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	queue := newQueueUnderTest(newFakeJobRepo(), newFakeReportRepo(), clock)
	ctx := context.Background()

	_, err := queue.AddJob(ctx, enqueueRequest())
	require.NoError(t, err)

	other := enqueueRequest()
	other.VariantCode = "fr-x-ls"
	_, err = queue.AddJob(ctx, other)
	assert.NoError(t, err)
}

func TestQueueService_CancelPendingJob(t *testing.T) {
	jobs := newFakeJobRepo()
	reports := newFakeReportRepo()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	queue := newQueueUnderTest(jobs, reports, clock)
	ctx := context.Background()

	job, err := queue.AddJob(ctx, enqueueRequest())
	require.NoError(t, err)

	require.NoError(t, queue.CancelJob(ctx, job.ID))

	require.Len(t, reports.reports, 1)
	assert.Equal(t, model.JobStatusCancelled, reports.reports[0].Status)
	_, err = jobs.GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, data.ErrJobNotFound)
}

func TestQueueService_CancelRejectsProcessingJob(t *testing.T) {
	jobs := newFakeJobRepo()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	queue := newQueueUnderTest(jobs, newFakeReportRepo(), clock)
	ctx := context.Background()

	job, err := queue.AddJob(ctx, enqueueRequest())
	require.NoError(t, err)
	_, err = jobs.NextPending(ctx)
	require.NoError(t, err)

	err = queue.CancelJob(ctx, job.ID)

	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestQueueService_CancelUnknownJob(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Now())
	queue := newQueueUnderTest(newFakeJobRepo(), newFakeReportRepo(), clock)

	err := queue.CancelJob(context.Background(), "no-such-job")

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestQueueService_ListByStatusValidatesStatus(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Now())
	queue := newQueueUnderTest(newFakeJobRepo(), newFakeReportRepo(), clock)

	_, err := queue.ListByStatus(context.Background(), model.JobStatus("bogus"))

	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestQueueService_Stats(t *testing.T) {
	jobs := newFakeJobRepo()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	queue := newQueueUnderTest(jobs, newFakeReportRepo(), clock)
	ctx := context.Background()

	_, err := queue.AddJob(ctx, enqueueRequest())
	require.NoError(t, err)
	other := enqueueRequest()
	other.PageID = "page-2"
	_, err = queue.AddJob(ctx, other)
	require.NoError(t, err)
	_, err = jobs.NextPending(ctx)
	require.NoError(t, err)

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.Processing)
}
