package strategy

import (
	"testing"

	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefs() []config.Strategy {
	off := false
	return []config.Strategy{
		{
			Name:     "Combined Strategy",
			Kind:     KindCombined,
			Schedule: "0 6 * * *",
			Children: []string{KindRSI, KindMovingAverage},
			Params:   map[string]float64{"rsi.rsi_period": 10},
		},
		{
			Name:     "RSI Strategy",
			Kind:     KindRSI,
			Enabled:  &off,
			Schedule: "0 7 * * *",
		},
	}
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(testDefs(), DefaultCatalog())
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Combined Strategy", list[0].Name)
	assert.True(t, list[0].Enabled)
	assert.Equal(t, Params{"rsi.rsi_period": 10}, list[0].Params)
	assert.Equal(t, "RSI Strategy", list[1].Name)
	assert.False(t, list[1].Enabled)
}

func TestNewRegistry_Invalid(t *testing.T) {
	tbl := []struct {
		name string
		defs []config.Strategy
	}{
		{
			name: "unknown kind",
			defs: []config.Strategy{{Name: "a", Kind: "kelly", Schedule: "@daily"}},
		},
		{
			name: "bad params",
			defs: []config.Strategy{{Name: "a", Kind: KindRSI, Schedule: "@daily", Params: map[string]float64{"rsi_period": 0}}},
		},
		{
			name: "duplicate name",
			defs: []config.Strategy{
				{Name: "a", Kind: KindRSI, Schedule: "@daily"},
				{Name: "a", Kind: KindBreakout, Schedule: "@daily"},
			},
		},
	}

	for _, c := range tbl {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewRegistry(c.defs, DefaultCatalog())
			require.Error(t, err)
			assert.True(t, errs.HasCode(err, errs.Config))
		})
	}
}

func TestRegistry_EnableDisable(t *testing.T) {
	r, err := NewRegistry(testDefs(), DefaultCatalog())
	require.NoError(t, err)

	assert.True(t, r.Enable("RSI Strategy"))
	e, err := r.Get("RSI Strategy")
	require.NoError(t, err)
	assert.True(t, e.Enabled)

	assert.True(t, r.Disable("Combined Strategy"))
	e, err = r.Get("Combined Strategy")
	require.NoError(t, err)
	assert.False(t, e.Enabled)

	assert.False(t, r.Enable("missing"))
	assert.False(t, r.Disable("missing"))
}

func TestRegistry_UpdateParams(t *testing.T) {
	r, err := NewRegistry(testDefs(), DefaultCatalog())
	require.NoError(t, err)

	assert.True(t, r.UpdateParams("RSI Strategy", Params{"rsi_period": 7, "buy_threshold": 20}))
	e, err := r.Get("RSI Strategy")
	require.NoError(t, err)
	assert.Equal(t, Params{"rsi_period": 7, "buy_threshold": 20}, e.Params)

	// invalid mapping leaves the previous one in place
	assert.False(t, r.UpdateParams("RSI Strategy", Params{"rsi_period": 7, "buy_threshold": 90}))
	e, err = r.Get("RSI Strategy")
	require.NoError(t, err)
	assert.Equal(t, Params{"rsi_period": 7, "buy_threshold": 20}, e.Params)

	err = r.UpdateParamsErr("RSI Strategy", Params{"unknown": 1})
	assert.True(t, errs.HasCode(err, errs.InvalidInput))

	err = r.UpdateParamsErr("missing", Params{})
	assert.True(t, errs.HasCode(err, errs.NotFound))
	assert.False(t, r.UpdateParams("missing", Params{}))
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r, err := NewRegistry(testDefs(), DefaultCatalog())
	require.NoError(t, err)

	s, e, err := r.Snapshot("Combined Strategy")
	require.NoError(t, err)
	assert.Equal(t, "Combined Strategy", s.Name())

	e.Params["rsi.rsi_period"] = 99
	again, err := r.Get("Combined Strategy")
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Params["rsi.rsi_period"])

	_, _, err = r.Snapshot("missing")
	assert.True(t, errs.HasCode(err, errs.NotFound))
}

func TestRegistry_Schedule(t *testing.T) {
	r, err := NewRegistry(testDefs(), DefaultCatalog())
	require.NoError(t, err)

	require.NoError(t, r.SetSchedule("RSI Strategy", "*/5 * * * *"))
	spec, err := r.Schedule("RSI Strategy")
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", spec)

	err = r.SetSchedule("missing", "@daily")
	assert.True(t, errs.HasCode(err, errs.NotFound))
}
