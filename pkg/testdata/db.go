package testdata

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jordanlanch/affiliate-engine/pkg/database"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

// NewStore opens a migrated in-memory SQLite database private to the test
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, dbSeq.Add(1))
	client, err := database.NewSQLiteClient(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return store.New(client)
}
