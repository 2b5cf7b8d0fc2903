package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmetrics/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store, err := NewStore(filepath.Join(t.TempDir(), "reports.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleReport(contract string, updated time.Time) *models.CampaignReport {
	return &models.CampaignReport{
		Campaign: models.CampaignInfo{
			Token: models.TokenIdentity{
				Symbol:          "PEPE",
				ContractAddress: contract,
			},
			Period: models.CampaignPeriods{
				PreCampaign: models.Period{
					From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
					To:   time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
				},
				DuringCampaign: models.Period{
					From: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
					To:   time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
				},
			},
		},
		Summary: []models.MetricSummary{
			{Name: models.MetricActiveWallets, PreCampaign: 3, DuringCampaign: 4, ChangePercent: 33.3},
		},
		LastUpdated: updated,
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	report := sampleReport("0xAbC", time.Now().UTC().Truncate(time.Second))

	require.NoError(t, store.Save(report))

	// 查询时合约地址大小写不敏感
	loaded, err := store.Get("0xabc", report.Campaign.Period)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, report.Summary, loaded.Summary)
	assert.Equal(t, "PEPE", loaded.Campaign.Token.Symbol)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.Get("0xmissing", models.CampaignPeriods{})
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveUpsertsSameKey(t *testing.T) {
	store := newTestStore(t)

	first := sampleReport("0xabc", time.Now().UTC())
	require.NoError(t, store.Save(first))

	second := sampleReport("0xabc", time.Now().UTC().Add(time.Hour))
	second.Summary[0].DuringCampaign = 9
	require.NoError(t, store.Save(second))

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := store.Get("0xabc", first.Campaign.Period)
	require.NoError(t, err)
	assert.Equal(t, 9.0, loaded.Summary[0].DuringCampaign)
}

func TestListAndGetLatest(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	older := sampleReport("0xabc", base)
	require.NoError(t, store.Save(older))

	newer := sampleReport("0xabc", base.Add(2*time.Hour))
	newer.Campaign.Period.DuringCampaign.To = time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(newer))

	other := sampleReport("0xdef", base.Add(4*time.Hour))
	require.NoError(t, store.Save(other))

	reports, err := store.List("0xabc")
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	latest, err := store.GetLatest("0xabc")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.LastUpdated, latest.LastUpdated)
}

func TestGetLatestEmpty(t *testing.T) {
	store := newTestStore(t)

	latest, err := store.GetLatest("0xabc")
	require.NoError(t, err)
	assert.Nil(t, latest)
}
