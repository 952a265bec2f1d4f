package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_sentinel/internal/models"
)

const mnqContract = "CON.F.US.MNQ.U25"

func TestApplyFillOpensLot(t *testing.T) {
	tr := New(nil)

	res := tr.ApplyFill(mnqContract, models.SideBuy, 2, 18000.25)

	assert.True(t, res.Opened)
	assert.Zero(t, res.RealizedPnl)
	require.NotNil(t, res.Lot)
	assert.Equal(t, models.Long, res.Lot.Side)
	assert.Equal(t, 2, res.Lot.Size)
	assert.InDelta(t, 18000.25, res.Lot.AvgEntryPrice, 1e-9)
	assert.Equal(t, 1, tr.Len())
}

func TestApplyFillWeightedAverageAdd(t *testing.T) {
	tr := New(nil)
	tr.ApplyFill(mnqContract, models.SideBuy, 2, 18000.0)

	res := tr.ApplyFill(mnqContract, models.SideBuy, 1, 18030.0)

	require.NotNil(t, res.Lot)
	assert.Equal(t, 3, res.Lot.Size)
	assert.InDelta(t, 18010.0, res.Lot.AvgEntryPrice, 1e-9)
}

func TestApplyFillWeightedAverageOrderInvariant(t *testing.T) {
	a := New(nil)
	a.ApplyFill(mnqContract, models.SideBuy, 2, 18000.0)
	a.ApplyFill(mnqContract, models.SideBuy, 1, 18030.0)

	b := New(nil)
	b.ApplyFill(mnqContract, models.SideBuy, 1, 18030.0)
	b.ApplyFill(mnqContract, models.SideBuy, 2, 18000.0)

	lotA, okA := a.Lot(mnqContract)
	lotB, okB := b.Lot(mnqContract)
	require.True(t, okA)
	require.True(t, okB)
	assert.InDelta(t, lotA.AvgEntryPrice, lotB.AvgEntryPrice, 1e-9)
	assert.Equal(t, lotA.Size, lotB.Size)
}

func TestApplyFillPartialReduceRealizesPnl(t *testing.T) {
	tr := New(nil)
	tr.ApplyFill(mnqContract, models.SideBuy, 3, 18000.0)

	res := tr.ApplyFill(mnqContract, models.SideSell, 1, 18010.0)

	// 10 points on 1 MNQ contract at $5/point.
	assert.InDelta(t, 50.0, res.RealizedPnl, 1e-9)
	assert.Equal(t, 1, res.ClosedSize)
	require.NotNil(t, res.Lot)
	assert.Equal(t, 2, res.Lot.Size)
	assert.InDelta(t, 18000.0, res.Lot.AvgEntryPrice, 1e-9)
}

func TestApplyFillFullCloseGoesFlat(t *testing.T) {
	tr := New(nil)
	tr.ApplyFill(mnqContract, models.SideBuy, 2, 18000.0)

	res := tr.ApplyFill(mnqContract, models.SideSell, 2, 17985.0)

	// -15 points on 2 contracts at $5/point.
	assert.InDelta(t, -150.0, res.RealizedPnl, 1e-9)
	assert.Equal(t, 2, res.ClosedSize)
	assert.Nil(t, res.Lot)
	assert.Zero(t, tr.Len())
}

func TestApplyFillFlip(t *testing.T) {
	tr := New(nil)
	tr.ApplyFill(mnqContract, models.SideBuy, 2, 18000.0)

	res := tr.ApplyFill(mnqContract, models.SideSell, 5, 18020.0)

	assert.True(t, res.Flipped)
	assert.InDelta(t, 200.0, res.RealizedPnl, 1e-9)
	assert.Equal(t, 2, res.ClosedSize)
	require.NotNil(t, res.Lot)
	assert.Equal(t, models.Short, res.Lot.Side)
	assert.Equal(t, 3, res.Lot.Size)
	assert.InDelta(t, 18020.0, res.Lot.AvgEntryPrice, 1e-9)
}

func TestApplyFillShortSideRealization(t *testing.T) {
	tr := New(nil)
	tr.ApplyFill(mnqContract, models.SideSell, 2, 18000.0)

	res := tr.ApplyFill(mnqContract, models.SideBuy, 2, 17990.0)

	// Short gains when price falls: 10 points x 2 x $5.
	assert.InDelta(t, 100.0, res.RealizedPnl, 1e-9)
	assert.Zero(t, tr.Len())
}

func TestApplyFillIgnoresZeroSize(t *testing.T) {
	tr := New(nil)
	res := tr.ApplyFill(mnqContract, models.SideBuy, 0, 18000.0)
	assert.Equal(t, FillResult{}, res)
	assert.Zero(t, tr.Len())
}

func TestApplyFillUnknownSymbolFallsBackToUnitPoint(t *testing.T) {
	tr := New(nil)
	con := "CON.F.US.XYZ.Z25"
	tr.ApplyFill(con, models.SideBuy, 1, 100.0)

	res := tr.ApplyFill(con, models.SideSell, 1, 103.0)

	assert.InDelta(t, 3.0, res.RealizedPnl, 1e-9)
}

func TestSyncPositionOverwritesLot(t *testing.T) {
	tr := New(nil)
	tr.ApplyFill(mnqContract, models.SideBuy, 1, 17950.0)

	tr.SyncPosition(models.PositionUpdate{
		ContractID:   mnqContract,
		Size:         4,
		AveragePrice: 18001.5,
		Type:         models.Short,
	})

	lot, ok := tr.Lot(mnqContract)
	require.True(t, ok)
	assert.Equal(t, 4, lot.Size)
	assert.Equal(t, models.Short, lot.Side)
	assert.InDelta(t, 18001.5, lot.AvgEntryPrice, 1e-9)
}

func TestSyncPositionIgnoresZeroSize(t *testing.T) {
	tr := New(nil)
	tr.ApplyFill(mnqContract, models.SideBuy, 1, 17950.0)

	tr.SyncPosition(models.PositionUpdate{ContractID: mnqContract, Size: 0})

	assert.Equal(t, 1, tr.Len())
}

func TestRemoveAndClear(t *testing.T) {
	tr := New(nil)
	tr.ApplyFill(mnqContract, models.SideBuy, 1, 17950.0)
	tr.ApplyFill("CON.F.US.MES.U25", models.SideBuy, 1, 5600.0)

	lot, ok := tr.Remove(mnqContract)
	require.True(t, ok)
	assert.Equal(t, 1, lot.Size)
	_, ok = tr.Lot(mnqContract)
	assert.False(t, ok)

	tr.Clear()
	assert.Zero(t, tr.Len())
}

func TestInstrumentPointValues(t *testing.T) {
	ins := DefaultInstruments()
	assert.InDelta(t, 5.0, ins.PointValue("CON.F.US.MNQ.U25"), 1e-9)
	assert.InDelta(t, 50.0, ins.PointValue("CON.F.US.ES.U25"), 1e-9)
	assert.InDelta(t, 1.0, ins.PointValue("CON.F.US.ZZZ.U25"), 1e-9)
}

func TestLoadInstrumentsMissingFileUsesDefaults(t *testing.T) {
	ins, err := LoadInstruments(t.TempDir() + "/nope.yaml")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, ins.PointValue("CON.F.US.MNQ.U25"), 1e-9)
}
