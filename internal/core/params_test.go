package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeParamsRejectsUnknownFields(t *testing.T) {
	_, err := DecodeParams(TaskTypeInventoryCheck, json.RawMessage(`{"low_stock_treshold": 5}`))
	require.Error(t, err)
}

func TestDecodeParamsEmptyDefaults(t *testing.T) {
	params, err := DecodeParams(TaskTypeInventoryCheck, nil)
	require.NoError(t, err)
	p, ok := params.(*InventoryCheckParams)
	require.True(t, ok)
	assert.Zero(t, p.LowStockThreshold)
}

func TestPriceOptimizationParamsBounds(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"max_change_percent": 10}`, false},
		{"zero change", `{"max_change_percent": 0}`, true},
		{"too large", `{"max_change_percent": 51}`, true},
		{"negative floor", `{"max_change_percent": 10, "floor_price": -1}`, true},
		{"ceiling below floor", `{"max_change_percent": 10, "floor_price": 20, "ceiling_price": 10}`, true},
		{"floor and ceiling ok", `{"max_change_percent": 10, "floor_price": 10, "ceiling_price": 20}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeParams(TaskTypePriceOptimization, json.RawMessage(tc.raw))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMarketingParamsChannel(t *testing.T) {
	_, err := DecodeParams(TaskTypeMarketingAutomation, json.RawMessage(`{"channel": "email", "daily_cap": 100}`))
	require.NoError(t, err)

	_, err = DecodeParams(TaskTypeMarketingAutomation, json.RawMessage(`{"channel": "fax"}`))
	require.Error(t, err)
}

func TestDataSyncParamsRequireEntities(t *testing.T) {
	_, err := DecodeParams(TaskTypeDataSync, json.RawMessage(`{"direction": "pull", "entities": ["products"]}`))
	require.NoError(t, err)

	_, err = DecodeParams(TaskTypeDataSync, json.RawMessage(`{"direction": "pull", "entities": []}`))
	require.Error(t, err)

	_, err = DecodeParams(TaskTypeDataSync, json.RawMessage(`{"direction": "sideways", "entities": ["products"]}`))
	require.Error(t, err)
}

func TestOrderFulfillmentParams(t *testing.T) {
	_, err := DecodeParams(TaskTypeOrderFulfillment, json.RawMessage(`{"max_orders_per_run": 25}`))
	require.NoError(t, err)

	_, err = DecodeParams(TaskTypeOrderFulfillment, json.RawMessage(`{"max_orders_per_run": 0}`))
	require.Error(t, err)
}

func TestCustomParamsFreeForm(t *testing.T) {
	params, err := DecodeParams(TaskTypeCustom, json.RawMessage(`{"anything": ["goes", 1, true]}`))
	require.NoError(t, err)
	_, ok := params.(CustomParams)
	assert.True(t, ok)

	_, err = DecodeParams(TaskTypeCustom, json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestTaskValidate(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	require.NoError(t, task.Validate())

	t.Run("custom frequency requires cron", func(t *testing.T) {
		task := newTestTask(TaskTypeInventoryCheck)
		task.Frequency = FrequencyCustom
		task.CronExpr = nil
		err := task.Validate()
		require.ErrorIs(t, err, ErrInvalidTask)
	})

	t.Run("custom frequency rejects bad cron", func(t *testing.T) {
		task := newTestTask(TaskTypeInventoryCheck)
		task.Frequency = FrequencyCustom
		task.CronExpr = strPtr("@every 5m")
		require.ErrorIs(t, task.Validate(), ErrInvalidTask)
	})

	t.Run("unknown task type", func(t *testing.T) {
		task := newTestTask("espresso_brewing")
		require.ErrorIs(t, task.Validate(), ErrInvalidTask)
	})

	t.Run("unknown frequency", func(t *testing.T) {
		task := newTestTask(TaskTypeInventoryCheck)
		task.Frequency = "fortnightly"
		require.ErrorIs(t, task.Validate(), ErrInvalidTask)
	})

	t.Run("missing owner", func(t *testing.T) {
		task := newTestTask(TaskTypeInventoryCheck)
		task.OwnerID = "  "
		require.ErrorIs(t, task.Validate(), ErrInvalidTask)
	})

	t.Run("negative retries", func(t *testing.T) {
		task := newTestTask(TaskTypeInventoryCheck)
		task.MaxRetries = -1
		require.ErrorIs(t, task.Validate(), ErrInvalidTask)
	})

	t.Run("defaults applied", func(t *testing.T) {
		task := newTestTask(TaskTypeInventoryCheck)
		task.Priority = ""
		task.Timeout = 0
		require.NoError(t, task.Validate())
		assert.Equal(t, PriorityMedium, task.Priority)
		assert.Equal(t, 5*time.Minute, task.Timeout)
	})

	t.Run("timeout capped", func(t *testing.T) {
		task := newTestTask(TaskTypeInventoryCheck)
		task.Timeout = 2 * time.Hour
		require.ErrorIs(t, task.Validate(), ErrInvalidTask)
	})

	t.Run("malformed parameters", func(t *testing.T) {
		task := newTestTask(TaskTypePriceOptimization)
		task.Parameters = json.RawMessage(`{"max_change_percent": 99}`)
		require.ErrorIs(t, task.Validate(), ErrInvalidTask)
	})
}

func TestRiskMapping(t *testing.T) {
	assert.Equal(t, RiskLevelHigh, RiskForTaskType(TaskTypePriceOptimization))
	assert.Equal(t, RiskLevelHigh, RiskForTaskType(TaskTypeOrderFulfillment))
	assert.Equal(t, RiskLevelMedium, RiskForTaskType(TaskTypeMarketingAutomation))
	assert.Equal(t, RiskLevelLow, RiskForTaskType(TaskTypeInventoryCheck))
	assert.Equal(t, RiskLevelLow, RiskForTaskType(TaskTypeDataSync))
	assert.Equal(t, RiskLevelLow, RiskForTaskType(TaskTypeCustom))

	assert.True(t, RequiresApproval(TaskTypePriceOptimization))
	assert.True(t, RequiresApproval(TaskTypeOrderFulfillment))
	assert.False(t, RequiresApproval(TaskTypeMarketingAutomation))
	assert.False(t, RequiresApproval(TaskTypeInventoryCheck))
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.False(t, ExecutionStatusPending.IsTerminal())
	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.True(t, ExecutionStatusCancelled.IsTerminal())
}
