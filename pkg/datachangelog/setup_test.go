package datachangelog

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entitiesConfig = `
entities:
  - name: orders
    fields:
      - {name: id, type: integer, auto_increment: true}
      - {name: status, type: string}
`

func gatheredNames(t *testing.T, reg *prometheus.Registry) []string {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	return names
}

func TestNewInfrastructureInMemory(t *testing.T) {
	cfg, err := LoadConfig([]byte(entitiesConfig))
	require.NoError(t, err)
	reg := prometheus.NewRegistry()

	infra, err := NewInfrastructure(context.Background(), cfg, zerolog.Nop(), reg)
	require.NoError(t, err)
	defer infra.Close()

	assert.Nil(t, infra.Index)
	_, err = infra.Engine.Mirror().Lookup("orders")
	require.NoError(t, err)

	s, err := infra.Engine.Begin(context.Background(), versioning.AsActor("u-1"))
	require.NoError(t, err)
	order, err := s.New("orders", versioning.Row{"status": "new"})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	timeline, err := infra.Engine.GetHistory(context.Background(), "orders", order.ID(), "")
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, "u-1", timeline[0].Who)

	assert.Contains(t, gatheredNames(t, reg), "versioning_history_records_total")
	assert.Len(t, infra.UnaryInterceptors(), 3)
	assert.Len(t, infra.StreamInterceptors(), 1)
}

func TestNewInfrastructureWithElasticsearch(t *testing.T) {
	fc, srv := newFakeCluster(t)
	cfg, err := LoadConfig([]byte(fmt.Sprintf(`
elasticsearch:
  enabled: true
  addresses: [%q]
  username: elastic
global:
  sensitive_fields: [status]
%s`, srv.URL, entitiesConfig)))
	require.NoError(t, err)

	infra, err := NewInfrastructure(context.Background(), cfg, zerolog.Nop(), nil)
	require.NoError(t, err)

	require.NotNil(t, infra.Index)
	assert.IsType(t, &ElasticsearchRepository{}, infra.Index.Repository())
	assert.Equal(t, []string{"versioning-history"}, fc.templates)

	s, err := infra.Engine.Begin(context.Background())
	require.NoError(t, err)
	_, err = s.New("orders", versioning.Row{"status": "new"})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	require.NoError(t, infra.Close())
	assert.Equal(t, 1, fc.indexedDocuments())

	_, err = infra.Engine.SearchHistory(context.Background(), "orders", map[string]interface{}{"status": "new"})
	assert.ErrorIs(t, err, ErrMaskedField)
}

func TestNewInfrastructureFallsBackWithoutCluster(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	cfg, err := LoadConfig([]byte(fmt.Sprintf(`
elasticsearch:
  enabled: true
  addresses: [%q]
  username: elastic
  retry_delay: 1ms
%s`, url, entitiesConfig)))
	require.NoError(t, err)

	infra, err := NewInfrastructure(context.Background(), cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer infra.Close()

	require.NotNil(t, infra.Index)
	repo, ok := infra.Index.Repository().(*MemoryRepository)
	require.True(t, ok)

	s, err := infra.Engine.Begin(context.Background())
	require.NoError(t, err)
	_, err = s.New("orders", versioning.Row{"status": "new"})
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	assert.Equal(t, 1, repo.Count())
}

func TestNewInfrastructureRegistrationError(t *testing.T) {
	cfg, err := LoadConfig([]byte(entitiesConfig))
	require.NoError(t, err)
	cfg.Entities = append(cfg.Entities, versioning.EntitySchema{
		Name:     "trucks",
		Inherits: "vehicles",
		Fields:   []versioning.Field{{Name: "payload", Type: versioning.FieldFloat}},
	})

	_, err = NewInfrastructure(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry())
	require.Error(t, err)
	assert.ErrorIs(t, err, versioning.ErrUnknownEntityType)
}
