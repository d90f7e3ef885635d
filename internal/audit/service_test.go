package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	rows     []TimelineRow
	lastCall WindowParams
}

func (s *stubTimelineRepo) Window(_ context.Context, params WindowParams) ([]TimelineRow, error) {
	s.lastCall = params
	out := s.rows
	if params.Offset < len(out) {
		out = out[params.Offset:]
	} else {
		out = nil
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func sampleRows(n int) []TimelineRow {
	rows := make([]TimelineRow, 0, n)
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rows = append(rows, TimelineRow{
			ID:       int64(n - i),
			At:       base.Add(-time.Duration(i) * time.Hour),
			ActorID:  7,
			Action:   "invoice.status",
			Entity:   "invoice",
			EntityID: "1",
		})
	}
	return rows
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: sampleRows(3)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Entity: "invoice", Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Zero(t, result.Paging.PrevPage)
	require.Equal(t, 3, repo.lastCall.Limit)
	require.Zero(t, repo.lastCall.Offset)
	require.Equal(t, "invoice", repo.lastCall.Filters.Entity)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, 2, repo.lastCall.Offset)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, maxPageSize, result.Paging.PageSize)
	require.Equal(t, maxPageSize+1, repo.lastCall.Limit)
	require.NotNil(t, result.Rows)

	result, err = svc.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	require.Equal(t, defaultPageSize, result.Paging.PageSize)
	require.Equal(t, 1, result.Paging.Page)
}

func TestServiceWithoutRepository(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
	_, err = svc.Export(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	rows := sampleRows(2)
	rows[0].Meta = json.RawMessage(`{"from":"DRAFT","to":"SENT"}`)

	out, err := WriteCSV(rows)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, "2024-03-10T10:00:00Z", records[1][1])
	require.Equal(t, `{"from":"DRAFT","to":"SENT"}`, records[1][6])
	require.Empty(t, records[2][6])
}
