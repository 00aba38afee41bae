package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronService_RunNow(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	f.corruptSeat(t, "trip-1", "A2", models.SeatStatusHeld)

	dir := t.TempDir()
	cronSvc := NewCronService(f.maintenance(PreferHigherPayment), NewReportService(dir, quietLogger()), CronSchedule{}, quietLogger())

	run, err := cronSvc.RunNow(JobFixSeats)
	require.NoError(t, err)
	assert.Empty(t, run.Error)
	assert.Equal(t, "fixed=1 synced=0 conflicts=0", run.Summary)

	files, err := filepath.Glob(filepath.Join(dir, "fix-seats-*.pdf"))
	require.NoError(t, err)
	assert.Len(t, files, 1, "report written when something changed")

	run, err = cronSvc.RunNow(JobFixPayments)
	require.NoError(t, err)
	assert.Equal(t, "deleted=0 fixed=0 mismatches=0 skipped=0", run.Summary)
	files, _ = filepath.Glob(filepath.Join(dir, "fix-payments-*.pdf"))
	assert.Empty(t, files, "no report for a clean run")

	_, err = cronSvc.RunNow("reindex")
	assert.IsType(t, &ValidationError{}, err)

	status := cronSvc.GetJobStatus()
	assert.Equal(t, false, status["running"])
	jobs := status["jobs"].([]map[string]interface{})
	require.Len(t, jobs, 2)
	assert.Equal(t, JobFixSeats, jobs[0]["name"])
	assert.Contains(t, jobs[0], "last_run")
}

func TestCronService_StartSchedulesJobs(t *testing.T) {
	f := newFixture(t)
	cronSvc := NewCronService(f.maintenance(PreferHigherPayment), nil, CronSchedule{
		FixSeats:    "0 */15 * * * *",
		FixPayments: "0 0 3 * * *",
	}, quietLogger())

	require.NoError(t, cronSvc.Start())
	defer cronSvc.Stop()

	status := cronSvc.GetJobStatus()
	assert.Equal(t, true, status["running"])
	assert.Equal(t, 2, status["job_count"])
	jobs := status["jobs"].([]map[string]interface{})
	assert.Contains(t, jobs[1], "next_run")
}

func TestCronService_RejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	cronSvc := NewCronService(f.maintenance(PreferHigherPayment), nil, CronSchedule{FixSeats: "every minute"}, quietLogger())
	assert.Error(t, cronSvc.Start())
}

func TestReportService_RendersPDF(t *testing.T) {
	reports := NewReportService("", quietLogger())
	pdf, err := reports.SeatReport(&models.FixSeatsResult{
		FixedCount: 1,
		Logs: []models.MaintenanceLog{{
			Route:       "Hà Nội - Lào Cai",
			Date:        "10/03/2026 21:00",
			SeatLabel:   "A1",
			BookingCode: "ABC123",
			Action:      models.ActionDuplicateFreed,
			Detail:      "Gỡ ghế khỏi đơn ABC123, ghế thuộc đơn DEF456 với nội dung rất dài cần được cắt bớt cho vừa ô của bảng",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf[:4]))

	_, err = reports.SavePaymentReport(&models.FixPaymentsResult{})
	assert.Error(t, err, "no directory configured")
}

func TestReportService_SavesIntoDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	reports := NewReportService(dir, quietLogger())

	path, err := reports.SavePaymentReport(&models.FixPaymentsResult{MismatchCount: 1, Logs: []models.MaintenanceLog{{
		Action: models.ActionMismatch, Detail: "chênh lệch", Delta: -50000,
	}}})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(raw[:4]))
}

func TestASCIIFold(t *testing.T) {
	assert.Equal(t, "Ha Noi - Lao Cai", asciiFold("Hà Nội - Lào Cai"))
	assert.Equal(t, "Dong bo trang thai held -> booked", asciiFold("Đồng bộ trạng thái held → booked"))
	assert.Equal(t, "da thu 300000d", asciiFold("đã thu 300000đ"))
}
