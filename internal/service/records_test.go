package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/careportal/auth-service/internal/models"
	"github.com/careportal/auth-service/internal/storage"
)

func testRecord(patientID uuid.UUID) *models.MedicalRecord {
	now := time.Now().UTC()
	return &models.MedicalRecord{
		ID:        uuid.New(),
		PatientID: patientID,
		Title:     "Общий анализ крови",
		Category:  "lab",
		Notes:     "в норме",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateRecord(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	patientID := uuid.New()

	t.Run("ok", func(t *testing.T) {
		var saved *models.MedicalRecord
		mockSt.EXPECT().
			SaveRecord(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, rec *models.MedicalRecord) error {
				saved = rec
				return nil
			})

		rec, err := svc.CreateRecord(ctx, patientID, "  Приём терапевта ", " visit ", "жалоб нет", nil)
		require.NoError(t, err)
		require.Equal(t, "Приём терапевта", rec.Title)
		require.Equal(t, "visit", rec.Category)
		require.Equal(t, patientID, rec.PatientID)
		require.NotEqual(t, uuid.Nil, rec.ID)
		require.Equal(t, saved, rec)
	})

	t.Run("empty title", func(t *testing.T) {
		_, err := svc.CreateRecord(ctx, patientID, "   ", "lab", "", nil)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrEmptyTitle)
	})
}

func TestRecordByID_Ownership(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	owner := uuid.New()
	rec := testRecord(owner)

	t.Run("owner reads own record", func(t *testing.T) {
		mockSt.EXPECT().RecordByID(gomock.Any(), rec.ID).Return(rec, nil)

		got, err := svc.RecordByID(ctx, owner, rec.ID)
		require.NoError(t, err)
		require.Equal(t, rec, got)
	})

	t.Run("foreign record looks missing", func(t *testing.T) {
		// Чужая запись неотличима от отсутствующей.
		mockSt.EXPECT().RecordByID(gomock.Any(), rec.ID).Return(rec, nil)

		_, err := svc.RecordByID(ctx, uuid.New(), rec.ID)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("not found", func(t *testing.T) {
		ghost := uuid.New()
		mockSt.EXPECT().RecordByID(gomock.Any(), ghost).Return(nil, storage.ErrNotFound)

		_, err := svc.RecordByID(ctx, owner, ghost)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestListRecords_Limits(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	patientID := uuid.New()

	t.Run("default limit", func(t *testing.T) {
		mockSt.EXPECT().
			RecordsByPatient(gomock.Any(), patientID, int64(recordsDefaultLimit)).
			Return([]models.MedicalRecord{*testRecord(patientID)}, nil)

		recs, err := svc.ListRecords(ctx, patientID, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
	})

	t.Run("limit capped", func(t *testing.T) {
		mockSt.EXPECT().
			RecordsByPatient(gomock.Any(), patientID, int64(recordsMaxLimit)).
			Return(nil, nil)

		_, err := svc.ListRecords(ctx, patientID, 100500)
		require.NoError(t, err)
	})
}

func TestUpdateRecord(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	owner := uuid.New()
	rec := testRecord(owner)

	t.Run("ok", func(t *testing.T) {
		mockSt.EXPECT().RecordByID(gomock.Any(), rec.ID).Return(rec, nil)
		mockSt.EXPECT().UpdateRecord(gomock.Any(), gomock.Any()).Return(nil)

		got, err := svc.UpdateRecord(ctx, owner, rec.ID, "Повторный приём", "visit", "динамика положительная", nil)
		require.NoError(t, err)
		require.Equal(t, "Повторный приём", got.Title)
	})

	t.Run("foreign record", func(t *testing.T) {
		mockSt.EXPECT().RecordByID(gomock.Any(), rec.ID).Return(rec, nil)

		_, err := svc.UpdateRecord(ctx, uuid.New(), rec.ID, "X", "", "", nil)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("empty title", func(t *testing.T) {
		mockSt.EXPECT().RecordByID(gomock.Any(), rec.ID).Return(rec, nil)

		_, err := svc.UpdateRecord(ctx, owner, rec.ID, " ", "", "", nil)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrEmptyTitle)
	})
}

func TestDeleteRecord(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	owner := uuid.New()
	rec := testRecord(owner)

	t.Run("ok", func(t *testing.T) {
		mockSt.EXPECT().RecordByID(gomock.Any(), rec.ID).Return(rec, nil)
		mockSt.EXPECT().DeleteRecord(gomock.Any(), rec.ID).Return(nil)

		require.NoError(t, svc.DeleteRecord(ctx, owner, rec.ID))
	})

	t.Run("foreign record", func(t *testing.T) {
		mockSt.EXPECT().RecordByID(gomock.Any(), rec.ID).Return(rec, nil)

		err := svc.DeleteRecord(ctx, uuid.New(), rec.ID)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}
