package main

import (
	"context"
	"testing"

	"pat-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Run_ReturnsStartupErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "invalid backend", env: map[string]string{"PAT_STORAGE_BACKEND": "floppy"}},
		{name: "invalid repeat policy", env: map[string]string{"PAT_WEBHOOK_REPEAT_POLICY": "sometimes"}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PAT_CONFIG", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Error(t, run())
		})
	}
}

func Test_OpenTables_Memory(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	tables, closeStore, err := openTables(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, closeStore)
	defer closeStore()

	assert.Equal(t, cfg.Storage.DevicesTable, tables.Devices.Name())
	assert.Equal(t, cfg.Storage.DataTable, tables.Data.Name())
	assert.Equal(t, cfg.Storage.IssuesTable, tables.Issues.Name())
}
